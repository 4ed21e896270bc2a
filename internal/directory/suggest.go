package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kariuki-john/remas-mobile/internal/rest"
)

// SuggestDebounce is how long typing must pause before a suggestion
// request fires.
const SuggestDebounce = 400 * time.Millisecond

// Suggester debounces counterpart search-as-you-type. Only the last query
// of a typing burst reaches the network; a cleared input emits an empty
// result immediately and makes no request at all. Responses that arrive
// after the query has moved on are dropped.
type Suggester struct {
	client  *rest.Client
	delay   time.Duration
	timeout time.Duration
	emit    func(query string, cands []rest.Candidate, err error)

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewSuggester creates a suggester delivering results through emit.
func NewSuggester(client *rest.Client, delay time.Duration, emit func(query string, cands []rest.Candidate, err error)) *Suggester {
	if delay <= 0 {
		delay = SuggestDebounce
	}
	return &Suggester{
		client:  client,
		delay:   delay,
		timeout: 10 * time.Second,
		emit:    emit,
	}
}

// Query records the current input value. Each call supersedes the
// previous one.
func (s *Suggester) Query(q string) {
	q = strings.TrimSpace(q)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if q == "" {
		s.mu.Unlock()
		s.emit("", nil, nil)
		return
	}
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen, q) })
	s.mu.Unlock()
}

// Cancel drops any pending request without emitting.
func (s *Suggester) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Suggester) fire(gen uint64, q string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	cands, err := s.client.SuggestUsers(ctx, q)

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}
	s.emit(q, cands, err)
}
