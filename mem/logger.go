package mem

import (
	"context"

	"bsid.es/diana/pkg/logger"
)

// DeliveryLogger logs every notification a Scheduler fires.
type DeliveryLogger struct {
	sched *Scheduler
	log   *logger.Logger

	sub    *DeliverySubscription
	cancel context.CancelFunc
}

func NewDeliveryLogger(sched *Scheduler, log *logger.Logger) *DeliveryLogger {
	return &DeliveryLogger{
		sched:  sched,
		log:    log,
		cancel: func() {},
	}
}

func (l *DeliveryLogger) Run(ctx context.Context) error {
	l.sub = l.sched.Subscribe(ctx)
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
	return nil
}

func (l *DeliveryLogger) Interrupt() error {
	l.cancel()
	return nil
}

func (l *DeliveryLogger) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.sub.Close()
			return

		case d, ok := <-l.sub.C():
			if !ok {
				l.log.Warn("delivery subscription dropped, resubscribing")
				l.sub = l.sched.Subscribe(ctx)
				continue
			}
			l.log.Info("alarm ringing",
				"handle", d.Handle,
				"title", d.Title,
				"body", d.Body,
				"at", d.At,
			)
		}
	}
}
