// Package notify publishes run lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	EventRunCompleted = "run.completed"
	EventRunAborted   = "run.aborted"
)

// Event summarizes a finished run.
type Event struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id"`
	Provider       string    `json:"provider"`
	Datasets       []string  `json:"datasets"`
	Entities       int       `json:"entities"`
	Attempted      int       `json:"attempted"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	RowsWritten    int64     `json:"rows_written"`
	Aborted        bool      `json:"aborted"`
	AbortReason    string    `json:"abort_reason,omitempty"`
	DeadLetterPath string    `json:"dead_letter_path,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
}

// Notifier delivers events.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Config controls the NATS connection. An empty URL disables notifications.
type Config struct {
	URL           string        `yaml:"url" env:"URL, overwrite"`
	Subject       string        `yaml:"subject" env:"SUBJECT, overwrite"`
	MaxReconnect  int           `yaml:"max_reconnect" env:"MAX_RECONNECT, overwrite"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"RECONNECT_WAIT, overwrite"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT, overwrite"`
}

// DefaultSubject prefixes every event subject.
const DefaultSubject = "finsync"

// NATS publishes events as JSON to "<subject>.<event type>".
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Entry
}

// New returns Nop when cfg.URL is empty, otherwise a connected NATS notifier.
func New(cfg Config, logger *logrus.Entry) (Notifier, error) {
	if cfg.URL == "" {
		return Nop{}, nil
	}
	return Connect(cfg, logger)
}

// Connect dials NATS.
func Connect(cfg Config, logger *logrus.Entry) (*NATS, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.MaxReconnect == 0 {
		cfg.MaxReconnect = 10
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	log := logger.WithField("component", "nats")

	opts := []nats.Option{
		nats.Name("finsync"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Debug("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{conn: conn, subject: cfg.Subject, logger: log}, nil
}

// Subject returns the subject an event is published on.
func Subject(prefix string, ev Event) string {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return prefix + "." + ev.Type
}

// Publish sends ev and flushes so the event survives process exit.
func (n *NATS) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := Subject(n.subject, ev)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	n.logger.WithFields(logrus.Fields{"subject": subject, "session_id": ev.SessionID}).Debug("event published")
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
