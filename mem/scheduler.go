package mem

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"bsid.es/diana"
)

// Delivery is a notification fired by Scheduler.
type Delivery struct {
	Handle diana.Handle `json:"handle"`
	Title  string       `json:"title"`
	Body   string       `json:"body"`
	At     time.Time    `json:"at"`
}

// Scheduler is an in-process diana.NotificationScheduler. It fires each
// request at its first instant and then daily at the requested wall-clock
// time, publishing a Delivery to every subscriber.
type Scheduler struct {
	Now func() time.Time

	// Permission answers RequestPermission. The default grants permission.
	Permission func(context.Context) (bool, error)

	wake         chan struct{}
	interactions chan diana.Interaction

	mu      sync.Mutex
	q       schedQueue
	entries map[diana.Handle]*schedQueueEntry
	subs    map[*DeliverySubscription]struct{}

	cancel context.CancelFunc
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		Now: time.Now,
		Permission: func(context.Context) (bool, error) {
			return true, nil
		},
		wake:         make(chan struct{}, 1),
		interactions: make(chan diana.Interaction, subBufferSize),
		entries:      make(map[diana.Handle]*schedQueueEntry),
		subs:         make(map[*DeliverySubscription]struct{}),
		cancel:       func() {},
	}
}

var (
	_ diana.NotificationScheduler = (*Scheduler)(nil)
	_ diana.InteractionSource     = (*Scheduler)(nil)
)

func (s *Scheduler) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return nil
}

func (s *Scheduler) Interrupt() error {
	s.cancel()
	return nil
}

func (s *Scheduler) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Permission(ctx)
}

func (s *Scheduler) ScheduleDaily(ctx context.Context, req diana.DailyRequest) (diana.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tod := diana.TimeOfDay{Hour: req.Hour, Minute: req.Minute}
	if err := tod.Validate(); err != nil {
		return "", err
	}
	first := req.First
	if first.IsZero() {
		first = diana.NextTrigger(tod, s.Now())
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Dtstart:  first,
		Byhour:   []int{req.Hour},
		Byminute: []int{req.Minute},
		Bysecond: []int{0},
	})
	if err != nil {
		return "", diana.Errorf(diana.ErrInvalid, "daily rule: %v", err)
	}

	entry := &schedQueueEntry{
		handle: diana.Handle(uuid.NewString()),
		req:    req,
		rule:   rule,
		at:     first,
	}

	s.mu.Lock()
	heap.Push(&s.q, entry)
	s.entries[entry.handle] = entry
	s.mu.Unlock()

	s.poke()
	return entry.handle, nil
}

func (s *Scheduler) Cancel(ctx context.Context, h diana.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	entry, ok := s.entries[h]
	if ok {
		heap.Remove(&s.q, entry.index)
		delete(s.entries, h)
	}
	s.mu.Unlock()

	if !ok {
		return diana.Errorf(diana.ErrNotFound, "handle %s not scheduled", h)
	}
	s.poke()
	return nil
}

// Next returns the next instant h fires at.
func (s *Scheduler) Next(h diana.Handle) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[h]
	if !ok {
		return time.Time{}, false
	}
	return entry.at, true
}

// Interact reports a user interaction with the notification behind h.
func (s *Scheduler) Interact(h diana.Handle) error {
	s.mu.Lock()
	_, ok := s.entries[h]
	s.mu.Unlock()
	if !ok {
		return diana.Errorf(diana.ErrNotFound, "handle %s not scheduled", h)
	}

	select {
	case s.interactions <- diana.Interaction{Handle: h, At: s.Now()}:
		return nil
	default:
		return diana.Errorf(diana.ErrInternal, "interaction queue is full")
	}
}

func (s *Scheduler) Interactions() <-chan diana.Interaction {
	return s.interactions
}

func (s *Scheduler) Subscribe(ctx context.Context) *DeliverySubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &DeliverySubscription{
		sched: s,
		c:     make(chan Delivery, subBufferSize),
	}
	s.subs[sub] = struct{}{}
	return sub
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(1<<63 - 1)
	timer.Stop()

	for {
		select {
		case <-ctx.Done(): // Operation was canceled.
			timer.Stop()
			return

		case <-s.wake:
			// The queue changed. Schedule next notification.
			s.reset(timer)

		case <-timer.C:
			s.fire()
			s.reset(timer)
		}
	}
}

// fire publishes every notification that is due and schedules its next
// instance.
func (s *Scheduler) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	for len(s.q) > 0 && !s.q[0].at.After(now) {
		entry := s.q[0]
		s.publish(Delivery{
			Handle: entry.handle,
			Title:  entry.req.Title,
			Body:   entry.req.Body,
			At:     entry.at,
		})

		next := entry.rule.After(entry.at, false)
		if next.IsZero() {
			heap.Pop(&s.q)
			delete(s.entries, entry.handle)
			continue
		}
		entry.at = next
		heap.Fix(&s.q, 0)
	}
}

func (s *Scheduler) reset(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.q) == 0 {
		return
	}
	// Time drift is absorbed here: a timer that fires early finds nothing
	// due and is reset for the remainder.
	timer.Reset(s.q[0].at.Sub(s.Now()))
}

func (s *Scheduler) publish(d Delivery) {
	for sub := range s.subs {
		select {
		case sub.c <- d:
		default:
			sub.close()
		}
	}
}

type schedQueueEntry struct {
	handle diana.Handle
	req    diana.DailyRequest
	rule   *rrule.RRule
	at     time.Time
	index  int
}

type schedQueue []*schedQueueEntry

var _ heap.Interface = (*schedQueue)(nil)

func (q schedQueue) Len() int {
	return len(q)
}

func (q schedQueue) Less(i, j int) bool {
	ti, tj := q[i].at, q[j].at
	return ti.Before(tj)
}

func (q schedQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *schedQueue) Push(x any) {
	entry := x.(*schedQueueEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *schedQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

type DeliverySubscription struct {
	sched *Scheduler
	c     chan Delivery
	once  sync.Once
}

func (sub *DeliverySubscription) C() <-chan Delivery {
	return sub.c
}

func (sub *DeliverySubscription) Close() error {
	sub.sched.mu.Lock()
	defer sub.sched.mu.Unlock()
	sub.close()
	return nil
}

func (sub *DeliverySubscription) close() {
	sub.once.Do(func() {
		close(sub.c)
	})
	delete(sub.sched.subs, sub)
}
