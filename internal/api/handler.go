// Package api exposes the dictation session over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-listen/internal/broadcast"
	"github.com/loqalabs/loqa-listen/internal/draft"
	"github.com/loqalabs/loqa-listen/internal/eventstore"
	"github.com/loqalabs/loqa-listen/internal/speech"
)

// Controller is the part of speech.Session the API drives.
type Controller interface {
	StartListening(language string)
	StopListening()
	Toggle(language string)
	Store() *speech.Store
}

// History lists recorded recognition attempts.
type History interface {
	ListAttempts(ctx context.Context, limit int) ([]eventstore.Attempt, error)
	ListAttemptEvents(ctx context.Context, attemptID string, limit int) ([]eventstore.Event, error)
}

type Handler struct {
	session  Controller
	draft    *draft.Draft
	history  History
	nodeID   string
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(session Controller, d *draft.Draft, history History, nodeID string, log *slog.Logger) *Handler {
	return &Handler{
		session: session,
		draft:   d,
		history: history,
		nodeID:  nodeID,
		log:     log.With(slog.String("component", "api")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Get("/state/stream", h.handleStream)
		r.Post("/listen/start", h.handleStart)
		r.Post("/listen/stop", h.handleStop)
		r.Post("/listen/toggle", h.handleToggle)
		r.Get("/draft", h.handleGetDraft)
		r.Put("/draft", h.handlePutDraft)
		r.Post("/draft/confirm", h.handleConfirm)
		r.Post("/draft/share", h.handleShare)
		r.Get("/history", h.handleHistory)
		r.Get("/history/{attemptID}", h.handleAttempt)
	})
}

func (h *Handler) snapshot() any {
	return broadcast.Snapshot(h.nodeID, h.session.Store().Get())
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.session.StartListening(r.URL.Query().Get("language"))
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) handleStop(w http.ResponseWriter, _ *http.Request) {
	h.session.StopListening()
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	h.session.Toggle(r.URL.Query().Get("language"))
	writeJSON(w, http.StatusOK, h.snapshot())
}

type draftBody struct {
	Text string `json:"text"`
}

type confirmBody struct {
	Candidate string `json:"candidate"`
	Index     *int   `json:"index,omitempty"`
}

func (h *Handler) handleGetDraft(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, draftBody{Text: h.draft.Text()})
}

func (h *Handler) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	var body draftBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	h.draft.Set(body.Text)
	writeJSON(w, http.StatusOK, draftBody{Text: h.draft.Text()})
}

// handleConfirm appends a candidate, picked by index from the current
// spoken text or passed verbatim.
func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var body confirmBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	candidate := body.Candidate
	if body.Index != nil {
		options := h.session.Store().Get().SpokenText
		if *body.Index < 0 || *body.Index >= len(options) {
			writeError(w, http.StatusBadRequest, "index out of range")
			return
		}
		candidate = options[*body.Index]
	}
	writeJSON(w, http.StatusOK, draftBody{Text: h.draft.Confirm(candidate)})
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	if err := h.draft.Share(r.Context()); err != nil {
		if errors.Is(err, draft.ErrEmpty) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Warn("share failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "share failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attemptView struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

type eventView struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.history.ListAttempts(r.Context(), queryInt(r, "limit"))
	if err != nil {
		h.log.Warn("list attempts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	views := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, attemptView{ID: a.ID, Language: a.Language, CreatedAt: a.CreatedAt})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleAttempt(w http.ResponseWriter, r *http.Request) {
	events, err := h.history.ListAttemptEvents(r.Context(), chi.URLParam(r, "attemptID"), queryInt(r, "limit"))
	if err != nil {
		h.log.Warn("list attempt events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{Type: e.Type, Payload: e.Payload, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, views)
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
