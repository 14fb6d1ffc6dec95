// Package events publishes relay lifecycle events to NATS JetStream.
// Publishing is best-effort: the relay functions fully without a broker.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/moltbot/relay/pkg/logger"
)

const (
	StreamName    = "RELAY_EVENTS"
	subjectPrefix = "relay.events."
)

// Event types emitted by the pipeline.
const (
	TypeMessageReceived   = "message.received"
	TypeMessageDispatched = "message.dispatched"
	TypeMessageFailed     = "message.failed"
	TypeQuotaExceeded     = "quota.exceeded"
	TypeUsageRecorded     = "usage.recorded"
)

// Event is one relay lifecycle event.
type Event struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher emits events to JetStream. A nil Publisher is valid and
// publishes nothing.
type Publisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// Connect establishes the NATS connection and ensures the event stream
// exists. An empty URL disables eventing and returns (nil, nil).
func Connect(ctx context.Context, url, token string, log *logger.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + ">"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Publisher{conn: nc, js: js, logger: log}, nil
}

// Publish emits one event. Failures are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode relay event", zap.Error(err))
		return
	}
	if _, err := p.js.Publish(ctx, subjectPrefix+event.Type, raw); err != nil {
		p.logger.Warn("failed to publish relay event",
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}

// IsConnected reports broker connectivity. A nil Publisher reports true:
// eventing is disabled, not broken.
func (p *Publisher) IsConnected() bool {
	if p == nil {
		return true
	}
	return p.conn.IsConnected()
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
