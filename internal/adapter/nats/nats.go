// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/avolkov-dev/genrelay/internal/config"
	"github.com/avolkov-dev/genrelay/internal/port/messagequeue"
)

// Queue implements messagequeue.Queue using NATS JetStream.
//
// Subscriptions use a durable consumer per subject with an explicit ack
// policy. AckWait acts as the visibility timeout: a message whose handler
// crashed becomes redeliverable once it expires. Multiple Subscribe calls on
// the same subject attach to the same durable consumer and compete for
// messages.
type Queue struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg config.NATS
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, cfg config.NATS) (*Queue, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{"tasks.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", cfg.URL, "stream", cfg.Stream)
	return &Queue{nc: nc, js: js, cfg: cfg}, nil
}

// Publish durably sends a message to the given subject. JetStream persists
// the message before the publish acknowledgment returns.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := q.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe attaches a consumer to the given subject.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       durableName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		d := messagequeue.Delivery{
			Subject: msg.Subject(),
			Data:    msg.Data(),
			Attempt: deliveryAttempt(msg),
		}

		err := handler(ctx, d)
		if err == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				slog.Error("nats ack failed", "subject", d.Subject, "error", ackErr)
			}
			return
		}

		var retry *messagequeue.RetryError
		if errors.As(err, &retry) {
			if nakErr := msg.NakWithDelay(retry.After); nakErr != nil {
				slog.Error("nats nak failed", "subject", d.Subject, "error", nakErr)
			}
			return
		}

		slog.Error("message handler failed", "subject", d.Subject, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Error("nats nak failed", "subject", d.Subject, "error", nakErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection immediately.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the queue is currently connected.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// deliveryAttempt extracts the delivery count from JetStream metadata.
// Falls back to 1 when metadata is unavailable.
func deliveryAttempt(msg jetstream.Msg) int {
	meta, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}

// durableName derives a consumer name from a subject ("tasks.created" →
// "genrelay-tasks-created"). Durable names must not contain dots.
func durableName(subject string) string {
	return "genrelay-" + strings.ReplaceAll(subject, ".", "-")
}
