// Package eventbus optionally publishes session lifecycle events to NATS
// so an operator can tail connect/disconnect activity across every
// sshmcpd instance from a single subscriber. Connection setup mirrors the
// teacher's JetStream mirror in internal/control/store/jetstream.go,
// simplified from a durable stream to plain publish-subscribe since these
// events are advisory, not replayable job state.
package eventbus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Bus wraps an optional NATS connection. A nil *Bus (or one built from an
// empty URL) is safe to call: every method becomes a no-op. This lets
// callers wire eventbus unconditionally without an "if configured" branch
// at every call site.
type Bus struct {
	conn           *nats.Conn
	subjectPrefix  string
	log            *slog.Logger
}

// New connects to url if non-empty. An empty url yields a no-op Bus; a
// non-empty url that fails to connect returns an error so the daemon can
// decide whether that is fatal (it is not, by default — see
// SPEC_FULL.md's ambient stack section).
func New(log *slog.Logger, url, subjectPrefix string) (*Bus, error) {
	if url == "" {
		return &Bus{log: log}, nil
	}
	conn, err := nats.Connect(url, nats.Name("sshmcp"), nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}
	if subjectPrefix == "" {
		subjectPrefix = "sshmcp"
	}
	return &Bus{conn: conn, subjectPrefix: subjectPrefix, log: log}, nil
}

// Close drains and closes the underlying connection, if any.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	_ = b.conn.Drain()
}

type sessionEvent struct {
	Event     string    `json:"event"`
	SessionID string    `json:"session_id"`
	Host      string    `json:"host,omitempty"`
	Username  string    `json:"username,omitempty"`
	At        time.Time `json:"at"`
}

// PublishSessionEvent emits a connected/disconnected/broken notification.
// Publish errors are logged, not returned: a lost lifecycle event must
// never fail the tool call that produced it.
func (b *Bus) PublishSessionEvent(event, sessionID, host, username string) {
	if b == nil || b.conn == nil {
		return
	}
	payload, err := json.Marshal(sessionEvent{
		Event:     event,
		SessionID: sessionID,
		Host:      host,
		Username:  username,
		At:        time.Now(),
	})
	if err != nil {
		return
	}
	subject := b.subjectPrefix + ".sessions." + event
	if err := b.conn.Publish(subject, payload); err != nil && b.log != nil {
		b.log.Warn("eventbus publish failed", "subject", subject, "error", err)
	}
}
