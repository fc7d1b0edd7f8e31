package engine

import (
	"context"
	"sync"
	"time"

	"bsid.es/diana"
	"bsid.es/diana/pkg/logger"
)

// Snapshot is the alarm collection right after a mutation.
type Snapshot struct {
	At     time.Time      `json:"at"`
	Alarms []*diana.Alarm `json:"alarms"`
}

const subBufferSize = 16

// Subscribe returns a subscription that receives a Snapshot after every
// successful mutation.
func (e *Engine) Subscribe() *Subscription {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	sub := &Subscription{
		engine: e,
		c:      make(chan Snapshot, subBufferSize),
	}
	e.subs[sub] = struct{}{}
	return sub
}

// Close ends every subscription.
func (e *Engine) Close() error {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for sub := range e.subs {
		sub.close()
	}
	return nil
}

func (e *Engine) publish(ctx context.Context) {
	alarms, err := e.store.List(ctx)
	if err != nil {
		e.log.Error("list alarms for snapshot", logger.Err(err))
		return
	}
	snap := Snapshot{At: e.clock.Now(), Alarms: alarms}

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for sub := range e.subs {
		select {
		case sub.c <- snap:
		default:
			// Slow subscribers lose their subscription and must subscribe
			// again.
			sub.close()
		}
	}
}

type Subscription struct {
	engine *Engine
	c      chan Snapshot
	once   sync.Once
}

// C returns the channel on which snapshots are delivered. It is closed when
// the subscription ends, including when the subscriber falls behind.
func (sub *Subscription) C() <-chan Snapshot {
	return sub.c
}

func (sub *Subscription) Close() error {
	sub.engine.subsMu.Lock()
	defer sub.engine.subsMu.Unlock()
	sub.close()
	return nil
}

func (sub *Subscription) close() {
	sub.once.Do(func() {
		close(sub.c)
	})
	delete(sub.engine.subs, sub)
}
