// Package mail hands email requests to the delivery side. The auth service
// never waits on delivery: requests are queued in a Dispatcher and published
// to NATS, a redis list, or the log.
package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"gatehouse.dev/internal/auth"
)

const (
	DefaultSubject = "gatehouse.mail.send"
	DefaultQueue   = "gatehouse:mail"
)

// Publisher transmits one request to the delivery transport.
type Publisher interface {
	Publish(ctx context.Context, req auth.EmailRequest) error
}

// Encode serializes a request in the wire format shared by all transports.
func Encode(req auth.EmailRequest) ([]byte, error) {
	data, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("encode email request: %w", err)
	}
	return data, nil
}

// Decode is the inverse of Encode, used by delivery workers.
func Decode(data []byte) (auth.EmailRequest, error) {
	var req auth.EmailRequest
	if err := msgpack.Unmarshal(data, &req); err != nil {
		return auth.EmailRequest{}, fmt.Errorf("decode email request: %w", err)
	}
	return req, nil
}

type natsConn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes msgpack-encoded requests on a subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

func NewNATSPublisher(conn natsConn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Publish(_ context.Context, req auth.EmailRequest) error {
	data, err := Encode(req)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	return nil
}

// ConnectNATS dials url with reconnect handling logged through log.
func ConnectNATS(url string, log logrus.FieldLogger) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Name("gatehouse"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.WithError(err).Error("nats error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// RedisQueue pushes msgpack-encoded requests onto a redis list. Workers pop
// from the opposite end, so the list is FIFO.
type RedisQueue struct {
	rdb redis.Cmdable
	key string
}

func NewRedisQueue(rdb redis.Cmdable, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueue
	}
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Publish(ctx context.Context, req auth.EmailRequest) error {
	data, err := Encode(req)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", q.key, err)
	}
	return nil
}

// LogPublisher writes a redacted entry instead of sending. The link carries a
// single-use token and is never logged.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, req auth.EmailRequest) error {
	p.log.WithFields(logrus.Fields{
		"recipient": req.RecipientEmail,
		"kind":      string(req.TemplateKind),
		"subject":   req.Subject,
	}).Info("email handoff")
	return nil
}
