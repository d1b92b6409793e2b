package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"

	"github.com/therealcybermattlee/ddcharacterbot/internal/config"
)

// AuditLogFile is the file, inside the configured log directory, that the
// consumer appends to.
const AuditLogFile = "auth.log"

// StartAuditConsumer connects to RabbitMQ, declares the audit queue
// (durable) and appends every event to <LogDir>/auth.log, one line per
// event.  Dialing is retried with capped exponential backoff; when the
// consume loop ends the consumer waits out the same backoff before it
// reconnects.  It returns only when ctx is cancelled.
func StartAuditConsumer(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit-consumer", "queue", cfg.Queue)

	c := &auditConsumer{
		logger:  logger,
		backoff: reconnectBackoff,
		dial: func(ctx context.Context) (brokerConn, error) {
			conn, err := dial(ctx, cfg.URL, logger)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		consume: func(ctx context.Context, conn brokerConn) error {
			return consumeLoop(ctx, conn, cfg, logger)
		},
	}
	return c.run(ctx)
}

// brokerConn is the part of *amqp.Connection the consumer uses.
type brokerConn interface {
	Channel() (*amqp.Channel, error)
	Close() error
}

// healthySession is how long a consume loop must have run for the
// reconnect backoff to start over.
const healthySession = time.Minute

type auditConsumer struct {
	logger  *slog.Logger
	backoff func() retry.Backoff
	dial    func(ctx context.Context) (brokerConn, error)
	consume func(ctx context.Context, conn brokerConn) error
}

func (a *auditConsumer) run(ctx context.Context) error {
	pause := a.backoff()
	for {
		conn, err := a.dial(ctx)
		if err != nil {
			return err // ctx cancelled
		}
		started := time.Now()
		err = a.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) >= healthySession {
			pause = a.backoff()
		}

		wait, _ := pause.Next()
		a.logger.WarnContext(ctx, "consume loop ended, reconnecting", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func reconnectBackoff() retry.Backoff {
	b := retry.NewExponential(time.Second)
	b = retry.WithCappedDuration(30*time.Second, b)
	return retry.WithJitterPercent(10, b)
}

func dial(ctx context.Context, url string, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	err := retry.Do(ctx, reconnectBackoff(), func(ctx context.Context) error {
		c, err := amqp.Dial(url)
		if err != nil {
			logger.WarnContext(ctx, "failed to dial broker", "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

func consumeLoop(ctx context.Context, conn brokerConn, cfg config.AuditConfig, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.WarnContext(ctx, "set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(cfg.LogDir, d.Body); err != nil {
				logger.ErrorContext(ctx, "handle message failed", "error", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(dir string, body []byte) error {
	var ev AuthEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return errors.New("event without type")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, AuditLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(ev AuthEvent) string {
	return fmt.Sprintf("[%s] %s | id=%s | user_id=%s | email=%q | ip=%s\n",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type, ev.ID, dash(ev.UserID), ev.Email, dash(ev.IP))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
