package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service hosts a local Recognizer on the bus. Control requests arrive on
// protocol.ControlSubject(nodeID); lifecycle events of each attempt are
// published on protocol.EventSubject(attemptID).
type Service struct {
	nodeID     string
	bus        *bus.Client
	recognizer Recognizer
	log        *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription

	mu      sync.Mutex
	attempt string
}

func NewService(parent context.Context, nodeID string, busClient *bus.Client, recognizer Recognizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		nodeID:     nodeID,
		bus:        busClient,
		recognizer: recognizer,
		log:        log.With(slog.String("component", "stt-service")),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.ControlSubject(s.nodeID), s.handleControl)
	if err != nil {
		return fmt.Errorf("subscribe recognition control: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recognizer.Stop(ctx); err != nil {
		s.log.Warn("failed to stop hosted recognizer", slogError(err))
	}
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleControl(msg *nats.Msg) {
	var req protocol.RecognitionControl
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode recognition control", slogError(err))
		s.reply(msg, protocol.ControlAck{Error: err.Error()})
		return
	}

	var err error
	switch req.Action {
	case protocol.ActionStart:
		err = s.startAttempt(req)
	case protocol.ActionStop:
		err = s.recognizer.Stop(s.ctx)
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}

	ack := protocol.ControlAck{AttemptID: req.AttemptID, OK: err == nil}
	if err != nil {
		s.log.Warn("recognition control failed", slog.String("action", req.Action), slogError(err))
		ack.Error = err.Error()
	}
	s.reply(msg, ack)
}

func (s *Service) startAttempt(req protocol.RecognitionControl) error {
	if req.AttemptID == "" {
		return errors.New("attempt_id is required")
	}
	if !s.recognizer.Available(s.ctx) {
		return errors.New("hosted recognizer not available")
	}

	s.mu.Lock()
	s.attempt = req.AttemptID
	s.mu.Unlock()

	attemptID := req.AttemptID
	listener := func(evt Event) {
		s.publishEvent(attemptID, evt)
	}
	return s.recognizer.Start(s.ctx, Request{
		AttemptID:     attemptID,
		LanguageModel: req.LanguageModel,
		Language:      req.Language,
		MaxResults:    req.MaxResults,
	}, listener)
}

func (s *Service) publishEvent(attemptID string, evt Event) {
	s.mu.Lock()
	current := s.attempt
	s.mu.Unlock()
	if current != attemptID {
		return
	}
	data, err := json.Marshal(EventToWire(attemptID, evt))
	if err != nil {
		s.log.Warn("failed to marshal lifecycle event", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.EventSubject(attemptID), data); err != nil {
		s.log.Warn("failed to publish lifecycle event", slogError(err))
	}
}

func (s *Service) reply(msg *nats.Msg, ack protocol.ControlAck) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		s.log.Warn("failed to marshal control ack", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to respond to control request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
