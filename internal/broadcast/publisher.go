// Package broadcast mirrors the recognition state onto the bus.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/speech"
)

// Publisher sends a protocol.StateSnapshot on protocol.SubjectState for every
// state change, starting with the current value.
type Publisher struct {
	bus         *bus.Client
	nodeID      string
	log         *slog.Logger
	unsubscribe func()
}

func Start(store *speech.Store, busClient *bus.Client, nodeID string, log *slog.Logger) *Publisher {
	p := &Publisher{
		bus:    busClient,
		nodeID: nodeID,
		log:    log.With(slog.String("component", "state-broadcast")),
	}
	p.unsubscribe = store.Subscribe(p.publish)
	return p
}

func (p *Publisher) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

func (p *Publisher) publish(state speech.State) {
	data, err := json.Marshal(Snapshot(p.nodeID, state))
	if err != nil {
		p.log.Warn("failed to marshal state snapshot", slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Conn().Publish(protocol.SubjectState, data); err != nil {
		p.log.Warn("failed to publish state snapshot", slog.String("error", err.Error()))
	}
}

// Snapshot converts a state into its wire form.
func Snapshot(nodeID string, state speech.State) protocol.StateSnapshot {
	text := state.SpokenText
	if text == nil {
		text = []string{}
	}
	return protocol.StateSnapshot{
		NodeID:     nodeID,
		Error:      state.Error,
		SpokenText: text,
		IsSpeaking: state.IsSpeaking,
		Timestamp:  time.Now().UTC(),
	}
}
