// Package badge maintains the app-level unread count shown on the
// messages tab. The count is server-derived; the aggregator only decides
// when to re-ask and how to render the answer.
package badge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kariuki-john/remas-mobile/internal/bus"
	"github.com/kariuki-john/remas-mobile/internal/rest"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the count is refreshed in the
// background while the app is active.
const DefaultPollInterval = 10 * time.Second

// FormatBadge renders a count for display: nothing at zero, the number
// up to 99, "99+" beyond.
func FormatBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}

// Update is the bus payload published when the count changes.
type Update struct {
	Count int
	Badge string
}

// Aggregator polls the unread total, reacts to badge-dirty events and
// explicit focus refreshes, and publishes only on change. A failed
// refresh keeps the previous value; a stale badge beats a flickering
// one.
type Aggregator struct {
	client   *rest.Client
	bus      *bus.Bus
	interval time.Duration
	pageSize int
	logger   *zap.Logger

	mu     sync.Mutex
	count  int
	known  bool
	cancel context.CancelFunc

	kick chan struct{}
}

// NewAggregator creates an aggregator polling at the given interval.
func NewAggregator(client *rest.Client, b *bus.Bus, interval time.Duration, pageSize int, logger *zap.Logger) *Aggregator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Aggregator{
		client:   client,
		bus:      b,
		interval: interval,
		pageSize: pageSize,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Count returns the last known unread total.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Badge returns the last known count rendered for display.
func (a *Aggregator) Badge() string {
	return FormatBadge(a.Count())
}

// Refresh requests an immediate re-poll, e.g. when the app regains
// focus. Non-blocking; coalesces with an already-pending request.
func (a *Aggregator) Refresh() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Start begins the poll loop and the badge-dirty subscription.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	dirty, unsub := a.bus.Subscribe("badge.", 16)

	go func() {
		defer unsub()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		a.poll(ctx)
		for {
			select {
			case <-ticker.C:
				a.poll(ctx)
			case <-a.kick:
				a.poll(ctx)
			case evt := <-dirty:
				if evt.Kind == bus.KindBadgeDirty {
					a.poll(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the poll loop.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Aggregator) poll(ctx context.Context) {
	n, err := a.client.UnreadCount(ctx, 1, a.pageSize)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("unread count refresh failed, keeping previous value", zap.Error(err))
		}
		return
	}

	a.mu.Lock()
	changed := !a.known || n != a.count
	a.count = n
	a.known = true
	a.mu.Unlock()

	if changed {
		a.bus.Emit(bus.KindBadgeUpdated, Update{Count: n, Badge: FormatBadge(n)})
	}
}
