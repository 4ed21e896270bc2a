package badge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kariuki-john/remas-mobile/internal/bus"
	"github.com/kariuki-john/remas-mobile/internal/identity"
	"github.com/kariuki-john/remas-mobile/internal/rest"
	"go.uber.org/zap"
)

// countServer serves the unread endpoint from an atomic counter and can
// be flipped into a failure mode.
type countServer struct {
	count   atomic.Int64
	fail    atomic.Bool
	polls   atomic.Int64
	baseURL string
}

func newCountServer(t *testing.T) *countServer {
	t.Helper()
	s := &countServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.polls.Add(1)
		if s.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"data":{"count":%d}}`, s.count.Load())
	}))
	t.Cleanup(srv.Close)
	s.baseURL = srv.URL
	return s
}

func testAggregator(t *testing.T, s *countServer, b *bus.Bus, interval time.Duration) *Aggregator {
	t.Helper()
	tokens := identity.TokenFunc(func() string { return "tok" })
	client := rest.NewClient(s.baseURL, tokens, zap.NewNop())
	return NewAggregator(client, b, interval, 10, zap.NewNop())
}

func waitUpdate(t *testing.T, ch <-chan bus.Event) Update {
	t.Helper()
	for {
		select {
		case evt := <-ch:
			if evt.Kind != bus.KindBadgeUpdated {
				continue
			}
			return evt.Payload.(Update)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for badge.updated")
		}
	}
}

func TestFormatBadge(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{-3, ""},
		{1, "1"},
		{99, "99"},
		{100, "99+"},
		{2500, "99+"},
	}
	for _, tt := range tests {
		if got := FormatBadge(tt.n); got != tt.want {
			t.Errorf("FormatBadge(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestAggregatorPublishesOnChange(t *testing.T) {
	s := newCountServer(t)
	s.count.Store(3)
	b := bus.New()
	ch, unsub := b.Subscribe("badge.", 16)
	defer unsub()

	a := testAggregator(t, s, b, 30*time.Millisecond)
	a.Start(context.Background())
	defer a.Stop()

	up := waitUpdate(t, ch)
	if up.Count != 3 || up.Badge != "3" {
		t.Errorf("update = %+v, want count 3", up)
	}

	s.count.Store(120)
	up = waitUpdate(t, ch)
	if up.Count != 120 || up.Badge != "99+" {
		t.Errorf("update = %+v, want count 120 badge 99+", up)
	}
	if a.Badge() != "99+" {
		t.Errorf("Badge() = %q, want 99+", a.Badge())
	}
}

func TestAggregatorSilentWhileUnchanged(t *testing.T) {
	s := newCountServer(t)
	s.count.Store(5)
	b := bus.New()
	ch, unsub := b.Subscribe("badge.", 16)
	defer unsub()

	a := testAggregator(t, s, b, 20*time.Millisecond)
	a.Start(context.Background())
	defer a.Stop()

	waitUpdate(t, ch)

	// Several more polls with the same value: no further events.
	time.Sleep(150 * time.Millisecond)
	select {
	case evt := <-ch:
		if evt.Kind == bus.KindBadgeUpdated {
			t.Errorf("unchanged count republished: %+v", evt.Payload)
		}
	default:
	}
	if s.polls.Load() < 3 {
		t.Errorf("polls = %d, expected the loop to keep polling", s.polls.Load())
	}
}

func TestAggregatorKeepsValueOnFailure(t *testing.T) {
	s := newCountServer(t)
	s.count.Store(7)
	b := bus.New()
	ch, unsub := b.Subscribe("badge.", 16)
	defer unsub()

	a := testAggregator(t, s, b, 20*time.Millisecond)
	a.Start(context.Background())
	defer a.Stop()

	waitUpdate(t, ch)
	s.fail.Store(true)
	time.Sleep(100 * time.Millisecond)

	if a.Count() != 7 {
		t.Errorf("Count() = %d after failures, want the last good value 7", a.Count())
	}
}

func TestAggregatorRefreshAndDirty(t *testing.T) {
	s := newCountServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("badge.", 16)
	defer unsub()

	// Long interval: only explicit triggers can move the count.
	a := testAggregator(t, s, b, time.Hour)
	a.Start(context.Background())
	defer a.Stop()

	up := waitUpdate(t, ch) // initial poll
	if up.Count != 0 {
		t.Fatalf("initial count = %d, want 0", up.Count)
	}

	s.count.Store(2)
	a.Refresh()
	up = waitUpdate(t, ch)
	if up.Count != 2 {
		t.Errorf("after Refresh(): count = %d, want 2", up.Count)
	}

	s.count.Store(4)
	b.Emit(bus.KindBadgeDirty, nil)
	up = waitUpdate(t, ch)
	if up.Count != 4 {
		t.Errorf("after badge.dirty: count = %d, want 4", up.Count)
	}
}
