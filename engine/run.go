package engine

import (
	"context"

	"bsid.es/diana"
	"bsid.es/diana/pkg/logger"
)

// Run resyncs alarms whenever the clock changes and routes notification
// interactions to the configured handler, until ctx is done or Interrupt is
// called.
func (e *Engine) Run(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	sub := e.clock.Subscribe(ctx)

	var interactions <-chan diana.Interaction
	if src, ok := e.sched.(diana.InteractionSource); ok {
		interactions = src.Interactions()
	}

	go e.run(ctx, sub, interactions)
	return nil
}

func (e *Engine) Interrupt() error {
	e.cancel()
	return nil
}

func (e *Engine) run(ctx context.Context, sub diana.ClockSubscription, interactions <-chan diana.Interaction) {
	for {
		select {
		case <-ctx.Done(): // Operation was canceled.
			sub.Close()
			return

		case change, ok := <-sub.C():
			if !ok {
				sub = e.clock.Subscribe(ctx)
				continue
			}
			e.log.Info("clock changed", "reason", change.Reason, "at", change.At)
			if err := e.Resync(ctx); err != nil {
				e.log.Error("resync after clock change", logger.Err(err))
			}

		case in, ok := <-interactions:
			if !ok {
				interactions = nil
				continue
			}
			e.interact(ctx, in)
		}
	}
}

func (e *Engine) interact(ctx context.Context, in diana.Interaction) {
	alarms, err := e.store.List(ctx)
	if err != nil {
		e.log.Error("list alarms for interaction", logger.Err(err))
		return
	}
	for _, a := range alarms {
		if a.Enabled && a.Handle == in.Handle {
			e.log.Info("alarm interacted with", "alarm", a.ID, "at", in.At)
			if e.onTap != nil {
				e.onTap(ctx, a)
			}
			return
		}
	}
	e.log.Warn("interaction with unknown handle", "handle", in.Handle)
}
