package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/capability"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/nats-io/nats.go"
)

// ErrNoProvider is returned when no healthy node offers recognition.
var ErrNoProvider = errors.New("no recognition provider on the bus")

// ProviderDirectory finds nodes offering a capability.
type ProviderDirectory interface {
	Providers(capability string) []capability.NodeInfo
}

// BusRecognizer drives a recognizer hosted by another node through Service.
type BusRecognizer struct {
	bus       *bus.Client
	directory ProviderDirectory
	timeout   time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	node    string
	attempt string
	sub     *nats.Subscription
}

func NewBusRecognizer(busClient *bus.Client, directory ProviderDirectory, timeout time.Duration, log *slog.Logger) *BusRecognizer {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &BusRecognizer{
		bus:       busClient,
		directory: directory,
		timeout:   timeout,
		log:       log.With(slog.String("component", "stt.bus")),
	}
}

func (r *BusRecognizer) Available(context.Context) bool {
	return r.bus.Healthy() && len(r.directory.Providers(protocol.CapabilityRecognize)) > 0
}

func (r *BusRecognizer) Start(ctx context.Context, req Request, listener Listener) error {
	providers := r.directory.Providers(protocol.CapabilityRecognize)
	if len(providers) == 0 {
		return ErrNoProvider
	}
	node := providers[0].ID
	if req.AttemptID == "" {
		req.AttemptID = uuid.NewString()
	}

	r.release()

	// Subscribe before issuing the request so early events are not missed.
	sub, err := r.bus.Conn().Subscribe(protocol.EventSubject(req.AttemptID), func(msg *nats.Msg) {
		var wire protocol.LifecycleEvent
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			r.log.Warn("failed to decode lifecycle event", slogError(err))
			return
		}
		evt, err := EventFromWire(wire)
		if err != nil {
			r.log.Warn("dropping lifecycle event", slogError(err))
			return
		}
		listener(evt)
	})
	if err != nil {
		return fmt.Errorf("subscribe lifecycle events: %w", err)
	}

	err = r.request(ctx, node, protocol.RecognitionControl{
		AttemptID:     req.AttemptID,
		Action:        protocol.ActionStart,
		Language:      req.Language,
		LanguageModel: req.LanguageModel,
		MaxResults:    req.MaxResults,
	})
	if err != nil {
		_ = sub.Unsubscribe()
		return err
	}

	r.mu.Lock()
	r.node = node
	r.attempt = req.AttemptID
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Stop asks the hosting node to stop listening. The event subscription stays
// open so results delivered after the stop still reach the listener.
func (r *BusRecognizer) Stop(ctx context.Context) error {
	r.mu.Lock()
	node, attempt := r.node, r.attempt
	r.mu.Unlock()
	if node == "" {
		return nil
	}
	return r.request(ctx, node, protocol.RecognitionControl{AttemptID: attempt, Action: protocol.ActionStop})
}

// Close drops the subscription of the latest attempt.
func (r *BusRecognizer) Close() {
	r.release()
}

func (r *BusRecognizer) release() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.node = ""
	r.attempt = ""
	r.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

func (r *BusRecognizer) request(ctx context.Context, node string, ctrl protocol.RecognitionControl) error {
	ctrl.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ctrl)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	reply, err := r.bus.Conn().RequestWithContext(ctx, protocol.ControlSubject(node), data)
	if err != nil {
		return fmt.Errorf("%s request to %s: %w", ctrl.Action, node, err)
	}
	var ack protocol.ControlAck
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return fmt.Errorf("decode control ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("%s rejected by %s: %s", ctrl.Action, node, ack.Error)
	}
	return nil
}
