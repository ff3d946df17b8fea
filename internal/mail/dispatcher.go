package mail

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

const (
	defaultBuffer  = 256
	publishTimeout = 5 * time.Second
)

var _ auth.EmailSender = (*Dispatcher)(nil)

// Dispatcher decouples the request path from the transport. Send never blocks;
// Run publishes queued requests until its context ends.
type Dispatcher struct {
	pub   Publisher
	queue chan auth.EmailRequest
	log   logrus.FieldLogger
}

func NewDispatcher(pub Publisher, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{
		pub:   pub,
		queue: make(chan auth.EmailRequest, buffer),
		log:   obs.Logger().WithField("component", "mail"),
	}
}

// Send enqueues req. A full queue drops the request.
func (d *Dispatcher) Send(_ context.Context, req auth.EmailRequest) {
	select {
	case d.queue <- req:
	default:
		obs.ObserveMail(string(req.TemplateKind), "dropped")
		d.log.WithField("kind", string(req.TemplateKind)).Warn("mail queue full, request dropped")
	}
}

// Run publishes until ctx is cancelled, then flushes what is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case req := <-d.queue:
			d.publish(ctx, req)
		case <-ctx.Done():
			d.flush()
			return nil
		}
	}
}

func (d *Dispatcher) flush() {
	ctx := context.Background()
	for {
		select {
		case req := <-d.queue:
			d.publish(ctx, req)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, req auth.EmailRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	kind := string(req.TemplateKind)
	if err := d.pub.Publish(ctx, req); err != nil {
		obs.ObserveMail(kind, "failed")
		d.log.WithError(err).WithField("kind", kind).Error("mail handoff failed")
		return
	}
	obs.ObserveMail(kind, "sent")
}
