package diana

import (
	"context"
	"fmt"
	"time"
)

// DefaultLabel replaces empty alarm labels.
const DefaultLabel = "Alarm"

// AlarmID identifies an alarm for the lifetime of the process.
type AlarmID string

// TimeOfDay is a wall-clock hour and minute with no date component.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, Errorf(ErrInvalid, "time of day %q must be HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return Errorf(ErrInvalid, "hour %d out of range", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return Errorf(ErrInvalid, "minute %d out of range", t.Minute)
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	v, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Alarm is a named daily alarm.
//
// Handle refers to the live recurring request held by the
// NotificationScheduler. It is set if and only if the alarm is enabled.
type Alarm struct {
	ID        AlarmID   `json:"id"`
	Label     string    `json:"label"`
	TimeOfDay TimeOfDay `json:"time"`
	Enabled   bool      `json:"enabled"`
	Handle    Handle    `json:"handle,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate reports whether the alarm satisfies its invariants.
func (a *Alarm) Validate() error {
	switch {
	case a.ID == "":
		return Errorf(ErrInvalid, "alarm id is required")
	case a.Enabled && a.Handle == "":
		return Errorf(ErrInternal, "alarm %s is enabled without a scheduler handle", a.ID)
	case !a.Enabled && a.Handle != "":
		return Errorf(ErrInternal, "alarm %s is disabled but holds handle %s", a.ID, a.Handle)
	}
	return a.TimeOfDay.Validate()
}

// Clone returns a copy of a.
func (a *Alarm) Clone() *Alarm {
	c := *a
	return &c
}

// LabelOrDefault returns label, or DefaultLabel if label is empty.
func LabelOrDefault(label string) string {
	if label == "" {
		return DefaultLabel
	}
	return label
}

// AlarmEdit is a partial change to an alarm's user-editable fields. Nil
// fields are left untouched.
type AlarmEdit struct {
	Label     *string    `json:"label,omitempty"`
	TimeOfDay *TimeOfDay `json:"time,omitempty"`
}

// AlarmStore owns the alarm collection.
//
// Implementations validate every alarm they write and never hand out
// references to the alarms they hold.
type AlarmStore interface {
	// Add inserts a new alarm. It fails with ErrDuplicateID if an alarm with
	// the same ID already exists.
	Add(ctx context.Context, a *Alarm) error

	// Update applies fn to a copy of the alarm and stores the result if fn
	// succeeds and the result is valid. It fails with ErrNotFound if there's
	// no such alarm.
	Update(ctx context.Context, id AlarmID, fn func(*Alarm) error) (*Alarm, error)

	// Remove deletes an alarm. It fails with ErrNotFound if there's no such
	// alarm.
	Remove(ctx context.Context, id AlarmID) error

	// Find returns the alarm with the given ID.
	Find(ctx context.Context, id AlarmID) (*Alarm, error)

	// List returns all alarms in insertion order.
	List(ctx context.Context) ([]*Alarm, error)
}
