package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-listen/internal/broadcast"
	"github.com/loqalabs/loqa-listen/internal/speech"
)

const streamWriteTimeout = 5 * time.Second

// handleStream pushes a snapshot for the current state and every later
// change. Slow clients skip intermediate values and only see the latest.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	latest := make(chan speech.State, 1)
	unsubscribe := h.session.Store().Subscribe(func(s speech.State) {
		for {
			select {
			case latest <- s:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case state := <-latest:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(broadcast.Snapshot(h.nodeID, state)); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debug("websocket write failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}
