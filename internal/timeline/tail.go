package timeline

// TailTracker decides whether the view should jump to the newest message
// when the timeline grows. The source force-scrolled unconditionally,
// which yanked readers out of history; instead, follow the tail only
// while the reader is already near the bottom.
type TailTracker struct {
	threshold int
	distance  int
}

// NewTailTracker creates a tracker that follows the tail while the reader
// is within threshold units of the bottom. A non-positive threshold
// follows only at the exact bottom.
func NewTailTracker(threshold int) *TailTracker {
	if threshold < 0 {
		threshold = 0
	}
	return &TailTracker{threshold: threshold}
}

// Scrolled records the reader's current distance from the bottom
// (0 = at the newest message).
func (t *TailTracker) Scrolled(distanceFromBottom int) {
	if distanceFromBottom < 0 {
		distanceFromBottom = 0
	}
	t.distance = distanceFromBottom
}

// ShouldFollow reports whether a growth of the timeline should scroll the
// view to the newest message.
func (t *TailTracker) ShouldFollow() bool {
	return t.distance <= t.threshold
}
