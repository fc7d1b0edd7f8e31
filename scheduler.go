package diana

import (
	"context"
	"time"
)

// Handle refers to an active recurring request held by a
// NotificationScheduler.
type Handle string

// DailyRequest asks for a notification that repeats every day at Hour:Minute
// local time.
type DailyRequest struct {
	Title  string
	Body   string
	Hour   int
	Minute int

	// First is the first instant the notification should fire, as computed by
	// NextTrigger.
	First time.Time
}

// NotificationScheduler requests and cancels recurring wake-ups with the
// platform.
type NotificationScheduler interface {
	// RequestPermission reports whether the user allows notifications.
	RequestPermission(ctx context.Context) (bool, error)

	// ScheduleDaily registers a daily repeating notification. The recurrence
	// is requested once.
	ScheduleDaily(ctx context.Context, req DailyRequest) (Handle, error)

	// Cancel stops a recurring notification. Cancelling an unknown or
	// already cancelled handle fails with ErrNotFound, which callers should
	// treat as success.
	Cancel(ctx context.Context, h Handle) error
}

// Interaction reports that the user interacted with a delivered notification.
type Interaction struct {
	Handle Handle    `json:"handle"`
	At     time.Time `json:"at"`
}

// InteractionSource is implemented by schedulers that report notification
// interactions.
type InteractionSource interface {
	Interactions() <-chan Interaction
}
