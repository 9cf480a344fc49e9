package speech

import "sync"

// Store holds the current State and fans changes out to subscribers.
//
// Updates are serialized and subscribers are notified synchronously, in
// subscription order, before Update returns. Subscribers may call Get but
// must not call Update or Subscribe from inside the callback.
type Store struct {
	updateMu sync.Mutex

	mu     sync.RWMutex
	state  State
	subs   []*subscriber
	nextID uint64
}

type subscriber struct {
	id uint64
	fn func(State)
}

func NewStore() *Store {
	return &Store{}
}

// Get returns the current value.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Update replaces the current value with fn(current) and notifies every
// subscriber of the result.
func (s *Store) Update(fn func(State) State) State {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	next := fn(s.state.clone()).clone()
	s.state = next
	subs := append([]*subscriber(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(next.clone())
	}
	return next.clone()
}

// Subscribe registers fn and immediately hands it the current value. The
// returned function removes the subscription; calling it again is a no-op.
func (s *Store) Subscribe(fn func(State)) func() {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, &subscriber{id: id, fn: fn})
	current := s.state.clone()
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(id) })
	}
}

func (s *Store) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}
