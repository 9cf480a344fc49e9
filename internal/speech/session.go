package speech

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrRecognizerNotAvailable is the message published when the recognizer
// reports it cannot serve requests. The attempt is still issued.
const ErrRecognizerNotAvailable = "Recognizer Not Available"

const availabilityTimeout = 500 * time.Millisecond

// Journal records recognition attempts and their lifecycle events.
type Journal interface {
	BeginAttempt(ctx context.Context, attemptID, language string) error
	RecordEvent(ctx context.Context, attemptID string, evt stt.Event) error
}

// Capture receives the raw audio buffers of an attempt.
type Capture interface {
	Begin(attemptID string)
	Append(attemptID string, pcm []byte)
	Finish(attemptID string) error
}

type Option func(*Session)

func WithJournal(j Journal) Option {
	return func(s *Session) { s.journal = j }
}

func WithCapture(c Capture) Option {
	return func(s *Session) { s.capture = c }
}

// Session bridges a stt.Recognizer to a Store. Start/stop actions and all
// recognizer callbacks run on one loop goroutine, one at a time.
type Session struct {
	cfg        config.RecognizerConfig
	store      *Store
	recognizer stt.Recognizer
	log        *slog.Logger
	journal    Journal
	capture    Capture
	metrics    *sessionMetrics
	tracer     trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	box    *mailbox
	wg     sync.WaitGroup

	// owned by the loop goroutine
	attemptID string
	span      trace.Span
	capturing bool
}

// NewSession creates a session and starts its loop. Call Close to stop it.
func NewSession(parent context.Context, cfg config.RecognizerConfig, store *Store, recognizer stt.Recognizer, log *slog.Logger, opts ...Option) *Session {
	if cfg.LanguageModel == "" {
		cfg.LanguageModel = stt.LanguageModelFreeForm
	}
	if cfg.Language == "" {
		cfg.Language = config.DefaultLanguage
	}
	if cfg.MaxResults <= 0 || cfg.MaxResults > config.MaxResultsLimit {
		cfg.MaxResults = config.MaxResultsLimit
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		cfg:        cfg,
		store:      store,
		recognizer: recognizer,
		log:        log.With(slog.String("component", "speech-session")),
		tracer:     otel.Tracer(instrumentationName),
		ctx:        ctx,
		cancel:     cancel,
		box:        newMailbox(),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics, err := newSessionMetrics()
	if err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	}
	s.metrics = metrics

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.box.run(ctx)
	}()
	return s
}

// Store returns the state store the session publishes to.
func (s *Session) Store() *Store { return s.store }

// Close stops the loop and releases the recognizer. Pending actions are
// dropped; the current attempt is still finished even when the parent
// context was cancelled first.
func (s *Session) Close() {
	done := make(chan struct{})
	s.box.post(func() {
		defer close(done)
		s.finishAttempt("closed")
	})
	select {
	case <-done:
	case <-s.ctx.Done():
	case <-time.After(time.Second):
	}
	s.cancel()
	s.wg.Wait()
	// The loop is gone, so its state can be touched here.
	s.finishAttempt("closed")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.recognizer.Stop(ctx); err != nil {
		s.log.Warn("failed to stop recognizer on close", slogError(err))
	}
}

// StartListening resets the state and begins a new recognition attempt.
// An empty language selects the configured default. Failures are reported
// through the state's Error field.
func (s *Session) StartListening(language string) {
	s.do("start", func() { s.startAttempt(language) })
}

// StopListening marks the state as not speaking, then asks the recognizer
// to stop. It is safe to call when nothing is active.
func (s *Session) StopListening() {
	s.do("stop", s.stopAttempt)
}

// Toggle stops an active attempt or starts a new one.
func (s *Session) Toggle(language string) {
	s.do("toggle", func() {
		if s.store.Get().IsSpeaking {
			s.stopAttempt()
			return
		}
		s.startAttempt(language)
	})
}

// do runs fn on the loop and waits for it to finish.
func (s *Session) do(action string, fn func()) {
	if s.ctx.Err() != nil {
		s.log.Warn("session closed, ignoring action", slog.String("action", action))
		return
	}
	done := make(chan struct{})
	s.box.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-s.ctx.Done():
		s.log.Warn("session closed before action completed", slog.String("action", action))
	}
}

func (s *Session) startAttempt(language string) {
	if language == "" {
		language = s.cfg.Language
	}
	s.finishAttempt("restarted")

	s.store.Update(func(State) State { return State{} })

	ctx, cancel := context.WithTimeout(s.ctx, s.availabilityTimeout())
	available := s.recognizer.Available(ctx)
	cancel()
	if !available {
		s.log.Warn("recognizer not available, starting anyway", slog.String("language", language))
		s.metrics.error(s.ctx, "unavailable")
		s.store.Update(withError(ErrRecognizerNotAvailable))
	}

	attemptID := uuid.NewString()
	req := stt.Request{
		AttemptID:     attemptID,
		LanguageModel: s.cfg.LanguageModel,
		Language:      language,
		MaxResults:    s.cfg.MaxResults,
	}
	s.attemptID = attemptID
	_, s.span = s.tracer.Start(s.ctx, "listen.attempt", trace.WithAttributes(
		attribute.String("attempt.id", attemptID),
		attribute.String("language", language),
	))
	s.metrics.attempt(s.ctx, language)
	if s.journal != nil {
		if err := s.journal.BeginAttempt(s.ctx, attemptID, language); err != nil {
			s.log.Warn("failed to journal attempt", slogError(err))
		}
	}
	if s.capture != nil {
		s.capture.Begin(attemptID)
		s.capturing = true
	}

	s.log.Info("recognition attempt started",
		slog.String("attempt_id", attemptID),
		slog.String("language", language))

	if err := s.recognizer.Start(s.ctx, req, s.listenerFor(attemptID)); err != nil {
		s.log.Warn("recognizer start failed", slog.String("attempt_id", attemptID), slogError(err))
		s.metrics.error(s.ctx, "start")
		s.span.RecordError(err)
		s.store.Update(withError(err.Error()))
	}

	s.store.Update(withSpeaking(true))
}

func (s *Session) stopAttempt() {
	s.store.Update(withSpeaking(false))
	if err := s.recognizer.Stop(s.ctx); err != nil {
		s.log.Warn("recognizer stop failed", slogError(err))
	}
}

// listenerFor tags events with the attempt they belong to and hands them to
// the loop. Events of superseded attempts are dropped there.
func (s *Session) listenerFor(attemptID string) stt.Listener {
	return func(evt stt.Event) {
		s.box.post(func() { s.handleEvent(attemptID, evt) })
	}
}

func (s *Session) handleEvent(attemptID string, evt stt.Event) {
	if attemptID != s.attemptID {
		s.log.Debug("dropping event of superseded attempt",
			slog.String("attempt_id", attemptID),
			slog.String("event", evt.String()))
		return
	}
	s.journalEvent(attemptID, evt)

	switch evt.Kind {
	case stt.EventReady:
		s.store.Update(withError(""))
	case stt.EventEnd:
		s.store.Update(withSpeaking(false))
		s.finishAttempt("end_of_speech")
	case stt.EventResults:
		if len(evt.Results) == 0 {
			return
		}
		results := evt.Results
		if len(results) > s.cfg.MaxResults {
			results = results[:s.cfg.MaxResults]
		}
		s.metrics.result(s.ctx)
		s.store.Update(withSpokenText(results))
	case stt.EventError:
		if evt.Code == stt.ErrorClient {
			s.log.Debug("ignoring client error", slog.String("attempt_id", attemptID))
			return
		}
		s.log.Warn("recognition error", slog.String("attempt_id", attemptID), slog.Int("code", evt.Code))
		s.metrics.errorCode(s.ctx, evt.Code)
		if s.span != nil {
			s.span.SetStatus(codes.Error, fmt.Sprintf("error %d", evt.Code))
		}
		s.store.Update(withError(fmt.Sprintf("Error: %d", evt.Code)))
	case stt.EventBuffer:
		if s.capturing {
			s.capture.Append(attemptID, evt.PCM)
		}
	case stt.EventBegin, stt.EventPartial, stt.EventRMS, stt.EventVendor:
		s.log.Debug("lifecycle event", slog.String("attempt_id", attemptID), slog.String("event", evt.String()))
	}
}

func (s *Session) journalEvent(attemptID string, evt stt.Event) {
	if s.journal == nil || evt.Kind == stt.EventRMS || evt.Kind == stt.EventBuffer {
		return
	}
	if err := s.journal.RecordEvent(s.ctx, attemptID, evt); err != nil {
		s.log.Warn("failed to journal event", slogError(err))
	}
}

// finishAttempt closes the per-attempt resources. The attempt stays current
// so results delivered after end of speech are still applied.
func (s *Session) finishAttempt(reason string) {
	if s.capturing {
		s.capturing = false
		if err := s.capture.Finish(s.attemptID); err != nil {
			s.log.Warn("failed to finish capture", slog.String("attempt_id", s.attemptID), slogError(err))
		}
	}
	if s.span != nil {
		s.span.SetAttributes(attribute.String("finish.reason", reason))
		s.span.End()
		s.span = nil
	}
}

func (s *Session) availabilityTimeout() time.Duration {
	if s.cfg.AvailabilityTimeoutMS > 0 {
		return time.Duration(s.cfg.AvailabilityTimeoutMS) * time.Millisecond
	}
	return availabilityTimeout
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
