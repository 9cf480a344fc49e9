package stt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type mockRecognizer struct {
	step time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewMockRecognizer returns a recognizer that plays a fixed lifecycle script
// (ready, begin, partial, results, end), pausing step between events.
func NewMockRecognizer(step time.Duration) Recognizer {
	if step <= 0 {
		step = 50 * time.Millisecond
	}
	return &mockRecognizer{step: step}
}

func (m *mockRecognizer) Available(context.Context) bool { return true }

func (m *mockRecognizer) Start(_ context.Context, req Request, listener Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	m.mu.Unlock()

	limit := min(req.MaxResults, 3)
	if limit <= 0 {
		limit = 1
	}
	candidates := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		candidates = append(candidates, fmt.Sprintf("[mock transcript lang=%s rank=%d]", req.Language, i+1))
	}
	script := []Event{
		{Kind: EventReady},
		{Kind: EventBegin},
		{Kind: EventPartial, Results: candidates[:1]},
		{Kind: EventResults, Results: candidates},
		{Kind: EventEnd},
	}

	go func() {
		for _, evt := range script {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.step):
			}
			listener(evt)
		}
	}()
	return nil
}

func (m *mockRecognizer) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}
