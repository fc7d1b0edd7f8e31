package mem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bsid.es/diana"
)

const (
	defaultClockInterval  = time.Second
	defaultClockTolerance = 2 * time.Second
)

// Clock reads the wall clock and reports discontinuities: wall-clock jumps
// that the monotonic clock didn't see, and changes of zone or UTC offset.
//
// The process loads time.Local once at startup, so with Wall set to time.Now
// a zone change means a DST transition of that location. A new system time
// zone is only seen after a restart, or through a Wall that reloads it.
type Clock struct {
	// Wall returns the current wall-clock time.
	Wall func() time.Time

	// Interval is how often the wall clock is sampled.
	Interval time.Duration

	// Tolerance is the largest disagreement between wall and monotonic
	// elapsed time that isn't reported as a change.
	Tolerance time.Duration

	mu   sync.Mutex
	subs map[*ClockSubscription]struct{}

	last       time.Time
	lastZone   string
	lastOffset int

	cancel context.CancelFunc
}

func NewClock() *Clock {
	return &Clock{
		Wall:      time.Now,
		Interval:  defaultClockInterval,
		Tolerance: defaultClockTolerance,
		subs:      make(map[*ClockSubscription]struct{}),
		cancel:    func() {},
	}
}

var _ diana.Clock = (*Clock)(nil)

func (c *Clock) Now() time.Time {
	return c.Wall()
}

func (c *Clock) Run(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.observe(c.Wall(), 0)
	go c.run(ctx)
	return nil
}

func (c *Clock) Interrupt() error {
	c.cancel()
	return nil
}

const subBufferSize = 16

func (c *Clock) Subscribe(ctx context.Context) diana.ClockSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &ClockSubscription{
		clock: c,
		c:     make(chan diana.ClockChange, subBufferSize),
	}
	c.subs[sub] = struct{}{}
	return sub
}

func (c *Clock) run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	// The ticker's own readings carry the monotonic clock.
	prev := time.Now()
	for {
		select {
		case <-ctx.Done(): // Operation was canceled.
			return

		case tick := <-ticker.C:
			elapsed := tick.Sub(prev)
			prev = tick
			if change, ok := c.observe(c.Wall(), elapsed); ok {
				c.publish(change)
			}
		}
	}
}

// observe records a wall-clock sample taken elapsed after the previous one
// and reports whether the wall clock changed discontinuously in between.
func (c *Clock) observe(now time.Time, elapsed time.Duration) (diana.ClockChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Strip the monotonic reading so that Sub compares wall clocks.
	now = now.Round(0)
	zone, offset := now.Zone()
	last, lastZone, lastOffset := c.last, c.lastZone, c.lastOffset
	c.last, c.lastZone, c.lastOffset = now, zone, offset

	if last.IsZero() {
		return diana.ClockChange{}, false
	}

	var reason string
	switch drift := now.Sub(last) - elapsed; {
	case zone != lastZone:
		reason = fmt.Sprintf("zone changed from %s to %s", lastZone, zone)
	case offset != lastOffset:
		reason = fmt.Sprintf("utc offset changed from %+ds to %+ds", lastOffset, offset)
	case drift > c.Tolerance || drift < -c.Tolerance:
		reason = fmt.Sprintf("wall clock jumped by %v", drift.Round(time.Second))
	default:
		return diana.ClockChange{}, false
	}
	return diana.ClockChange{At: now, Reason: reason}, true
}

func (c *Clock) publish(change diana.ClockChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		select {
		case sub.c <- change:
		default:
			// Slow subscribers lose their subscription and must subscribe
			// again.
			sub.close()
		}
	}
}

var _ diana.ClockSubscription = (*ClockSubscription)(nil)

type ClockSubscription struct {
	clock *Clock
	c     chan diana.ClockChange
	once  sync.Once
}

func (sub *ClockSubscription) C() <-chan diana.ClockChange {
	return sub.c
}

func (sub *ClockSubscription) Close() error {
	sub.clock.mu.Lock()
	defer sub.clock.mu.Unlock()
	sub.close()
	return nil
}

func (sub *ClockSubscription) close() {
	sub.once.Do(func() {
		close(sub.c)
	})
	delete(sub.clock.subs, sub)
}
