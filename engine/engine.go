// Package engine keeps alarms and their scheduled notifications in step.
//
// Every mutation runs under one lock and orders its side effects so that a
// stored alarm is enabled if and only if it holds a live scheduler handle.
// Once a mutation has changed the scheduler, the rest of it runs detached
// from the caller's cancellation.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"bsid.es/diana"
	"bsid.es/diana/pkg/logger"
)

// DefaultTimeout bounds every call into the NotificationScheduler.
const DefaultTimeout = 5 * time.Second

// Config holds an Engine's collaborators. Store, Scheduler and Clock are
// required.
type Config struct {
	Store     diana.AlarmStore
	Scheduler diana.NotificationScheduler
	Clock     diana.Clock
	Log       *logger.Logger

	// Timeout bounds each scheduler call. Zero means DefaultTimeout.
	Timeout time.Duration

	// Body is the notification body sent with every alarm.
	Body string

	// NewID generates alarm ids. The default generates UUIDv7 strings.
	NewID func() diana.AlarmID

	// OnInteraction is called when the user interacts with an alarm's
	// notification.
	OnInteraction func(context.Context, *diana.Alarm)
}

type Engine struct {
	store   diana.AlarmStore
	sched   diana.NotificationScheduler
	clock   diana.Clock
	log     *logger.Logger
	timeout time.Duration
	body    string
	newID   func() diana.AlarmID
	onTap   func(context.Context, *diana.Alarm)

	// mu serializes mutations.
	mu sync.Mutex

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}

	cancel context.CancelFunc
}

func New(cfg Config) *Engine {
	e := &Engine{
		store:   cfg.Store,
		sched:   cfg.Scheduler,
		clock:   cfg.Clock,
		log:     cfg.Log,
		timeout: cfg.Timeout,
		body:    cfg.Body,
		newID:   cfg.NewID,
		onTap:   cfg.OnInteraction,
		subs:    make(map[*Subscription]struct{}),
		cancel:  func() {},
	}
	if e.log == nil {
		e.log = logger.Discard()
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.newID == nil {
		e.newID = newID
	}
	return e
}

func newID() diana.AlarmID {
	id, err := uuid.NewV7()
	if err != nil {
		return diana.AlarmID(uuid.NewString())
	}
	return diana.AlarmID(id.String())
}

// Create stores a new enabled alarm and schedules its daily notification.
func (e *Engine) Create(ctx context.Context, label string, tod diana.TimeOfDay) (*diana.Alarm, error) {
	if err := tod.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.permit(ctx); err != nil {
		return nil, err
	}

	a := &diana.Alarm{
		ID:        e.newID(),
		Label:     diana.LabelOrDefault(label),
		TimeOfDay: tod,
		CreatedAt: e.clock.Now(),
	}
	h, err := e.schedule(ctx, a)
	if err != nil {
		return nil, err
	}
	a.Enabled, a.Handle = true, h

	ctx = context.WithoutCancel(ctx)
	if err := e.store.Add(ctx, a); err != nil {
		e.release(ctx, a.ID, h)
		return nil, err
	}

	e.log.Info("alarm created", "alarm", a.ID, "time", a.TimeOfDay, "handle", h)
	e.publish(ctx)
	return a.Clone(), nil
}

// Toggle enables a disabled alarm or disables an enabled one.
func (e *Engine) Toggle(ctx context.Context, id diana.AlarmID) (*diana.Alarm, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *diana.Alarm
	if a.Enabled {
		updated, err = e.disable(ctx, a)
	} else {
		updated, err = e.enable(ctx, a)
	}
	if err != nil {
		return nil, err
	}

	e.publish(context.WithoutCancel(ctx))
	return updated, nil
}

func (e *Engine) enable(ctx context.Context, a *diana.Alarm) (*diana.Alarm, error) {
	if err := e.permit(ctx); err != nil {
		return nil, err
	}
	h, err := e.schedule(ctx, a)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	updated, err := e.store.Update(ctx, a.ID, func(a *diana.Alarm) error {
		a.Enabled, a.Handle = true, h
		return nil
	})
	if err != nil {
		e.release(ctx, a.ID, h)
		return nil, err
	}

	e.log.Info("alarm enabled", "alarm", a.ID, "handle", h)
	return updated, nil
}

func (e *Engine) disable(ctx context.Context, a *diana.Alarm) (*diana.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.cancelHandle(ctx, a.ID, a.Handle); err != nil {
		return nil, err
	}

	updated, err := e.store.Update(ctx, a.ID, func(a *diana.Alarm) error {
		a.Enabled, a.Handle = false, ""
		return nil
	})
	if err != nil {
		e.log.Error("alarm left enabled with a cancelled handle",
			"alarm", a.ID, "handle", a.Handle, logger.Err(err))
		return nil, err
	}

	e.log.Info("alarm disabled", "alarm", a.ID)
	return updated, nil
}

// Edit changes an alarm's label or time of day. An enabled alarm gets a new
// notification before its old one is cancelled.
func (e *Engine) Edit(ctx context.Context, id diana.AlarmID, edit diana.AlarmEdit) (*diana.Alarm, error) {
	if edit.TimeOfDay != nil {
		if err := edit.TimeOfDay.Validate(); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	next := a.Clone()
	if edit.Label != nil {
		next.Label = diana.LabelOrDefault(*edit.Label)
	}
	if edit.TimeOfDay != nil {
		next.TimeOfDay = *edit.TimeOfDay
	}
	if next.Label == a.Label && next.TimeOfDay == a.TimeOfDay {
		return a, nil
	}

	var updated *diana.Alarm
	if a.Enabled {
		updated, err = e.reschedule(ctx, a, next)
	} else {
		updated, err = e.store.Update(ctx, id, func(a *diana.Alarm) error {
			a.Label, a.TimeOfDay = next.Label, next.TimeOfDay
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	e.log.Info("alarm edited", "alarm", id, "label", updated.Label, "time", updated.TimeOfDay)
	e.publish(context.WithoutCancel(ctx))
	return updated, nil
}

// reschedule replaces the notification of the enabled alarm old with one for
// next and stores next's fields along with the new handle.
func (e *Engine) reschedule(ctx context.Context, old, next *diana.Alarm) (*diana.Alarm, error) {
	h, err := e.schedule(ctx, next)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.cancelHandle(ctx, old.ID, old.Handle); err != nil {
		e.release(ctx, old.ID, h)
		return nil, err
	}

	updated, err := e.store.Update(ctx, old.ID, func(a *diana.Alarm) error {
		a.Label, a.TimeOfDay = next.Label, next.TimeOfDay
		a.Handle = h
		return nil
	})
	if err != nil {
		e.log.Error("alarm left with a cancelled handle",
			"alarm", old.ID, "handle", old.Handle, logger.Err(err))
		e.release(ctx, old.ID, h)
		return nil, err
	}
	return updated, nil
}

// Delete removes an alarm, cancelling its notification first if it's
// enabled.
func (e *Engine) Delete(ctx context.Context, id diana.AlarmID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	if a.Enabled {
		if err := e.cancelHandle(ctx, a.ID, a.Handle); err != nil {
			return err
		}
	}
	if err := e.store.Remove(ctx, id); err != nil {
		return err
	}

	e.log.Info("alarm deleted", "alarm", id)
	e.publish(ctx)
	return nil
}

func (e *Engine) List(ctx context.Context) ([]*diana.Alarm, error) {
	return e.store.List(ctx)
}

func (e *Engine) Find(ctx context.Context, id diana.AlarmID) (*diana.Alarm, error) {
	return e.store.Find(ctx, id)
}

// NextTrigger returns the next instant a fires at, according to the engine's
// clock.
func (e *Engine) NextTrigger(a *diana.Alarm) time.Time {
	return diana.NextTrigger(a.TimeOfDay, e.clock.Now())
}

// Resync replaces the notification of every enabled alarm with a fresh one
// computed from the current time. Handles that the scheduler no longer knows,
// such as those stored by a previous process, are dropped.
func (e *Engine) Resync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	alarms, err := e.store.List(ctx)
	if err != nil {
		return err
	}

	var errs []error
	var n int
	for _, a := range alarms {
		if !a.Enabled {
			continue
		}
		if _, err := e.reschedule(ctx, a, a); err != nil {
			e.log.Error("resync failed", "alarm", a.ID, logger.Err(err))
			errs = append(errs, err)
			continue
		}
		n++
	}

	e.log.Info("alarms resynced", "count", n, "failed", len(errs))
	if n > 0 {
		e.publish(context.WithoutCancel(ctx))
	}
	return errors.Join(errs...)
}

// permit asks the scheduler for permission to notify.
func (e *Engine) permit(ctx context.Context) error {
	granted, err := await(ctx, e.timeout, "request permission", e.sched.RequestPermission, nil)
	if err != nil {
		return schedulerError("request permission", err)
	}
	if !granted {
		return diana.Errorf(diana.ErrPermissionDenied, "notifications are not allowed")
	}
	return nil
}

func (e *Engine) schedule(ctx context.Context, a *diana.Alarm) (diana.Handle, error) {
	req := diana.DailyRequest{
		Title:  a.Label,
		Body:   e.body,
		Hour:   a.TimeOfDay.Hour,
		Minute: a.TimeOfDay.Minute,
		First:  diana.NextTrigger(a.TimeOfDay, e.clock.Now()),
	}
	h, err := await(ctx, e.timeout, "schedule",
		func(ctx context.Context) (diana.Handle, error) {
			return e.sched.ScheduleDaily(ctx, req)
		},
		func(h diana.Handle, err error) {
			// The request completed after we gave up on it.
			if err == nil {
				e.release(ctx, a.ID, h)
			}
		},
	)
	if err != nil {
		if diana.ErrorCode(err) == diana.ErrDuplicateID {
			return "", err
		}
		return "", schedulerError("schedule alarm "+string(a.ID), err)
	}
	return h, nil
}

// cancelHandle cancels h. A handle unknown to the scheduler counts as
// cancelled.
func (e *Engine) cancelHandle(ctx context.Context, id diana.AlarmID, h diana.Handle) error {
	_, err := await(ctx, e.timeout, "cancel",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.sched.Cancel(ctx, h)
		},
		nil,
	)
	switch {
	case err == nil:
		return nil
	case diana.ErrorCode(err) == diana.ErrNotFound:
		e.log.Warn("handle already cancelled", "alarm", id, "handle", h, logger.Err(err))
		return nil
	default:
		return schedulerError("cancel alarm "+string(id), err)
	}
}

// release cancels a handle that never made it into the store.
func (e *Engine) release(ctx context.Context, id diana.AlarmID, h diana.Handle) {
	ctx = context.WithoutCancel(ctx)
	if err := e.cancelHandle(ctx, id, h); err != nil {
		e.log.Error("orphaned scheduler handle", "alarm", id, "handle", h, logger.Err(err))
	}
}

func schedulerError(op string, err error) error {
	if diana.ErrorCode(err) == diana.ErrSchedulerUnavailable {
		return err
	}
	return diana.Errorf(diana.ErrSchedulerUnavailable, "%s: %v", op, err)
}

type result[T any] struct {
	v   T
	err error
}

// await runs fn with a deadline of timeout. If the deadline passes first, it
// returns ErrSchedulerUnavailable and passes fn's eventual result to late.
func await[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error), late func(T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan result[T], 1)
	go func() {
		defer cancel()
		v, err := fn(ctx)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.v, r.err
		default:
		}
		if late != nil {
			go func() {
				r := <-done
				late(r.v, r.err)
			}()
		}
		var zero T
		return zero, diana.Errorf(diana.ErrSchedulerUnavailable, "%s: %v", op, ctx.Err())
	}
}
