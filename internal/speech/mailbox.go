package speech

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO of closures drained by a single goroutine.
// post never blocks, so recognizers may deliver events from any goroutine,
// including from inside Recognizer.Start while the loop is busy.
type mailbox struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return fn
}

func (m *mailbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
		for fn := m.pop(); fn != nil; fn = m.pop() {
			if ctx.Err() != nil {
				return
			}
			fn()
		}
	}
}
