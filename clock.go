package diana

import (
	"context"
	"time"
)

// Clock supplies wall-clock time and reports when it changes in ways other
// than by the passage of time.
type Clock interface {
	Now() time.Time
	Subscribe(context.Context) ClockSubscription
}

type ClockSubscription interface {
	// C returns the channel on which clock changes are delivered.
	//
	// If the subscriber can't keep up with the changes coming from this
	// channel, Clock unsubscribes it and closes its channel; in this case, the
	// subscription holder will need to subscribe again.
	C() <-chan ClockChange

	// Close closes the subscription.
	Close() error
}

// ClockChange describes a discontinuity of the wall clock: the device time
// was set, or the zone or its UTC offset changed (including DST).
type ClockChange struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}
