// Package broadcast fans session updates out to downstream consumers. The
// websocket hub serves live dashboards; the NATS publisher feeds external
// systems such as recording pipelines or audit trails. Both are best
// effort: a slow or absent consumer never blocks event application.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vigilops/vigil/internal/metrics"
	"github.com/vigilops/vigil/internal/session"
)

// Subjects published relative to the configured prefix.
const (
	subjectScores = "sessions.scores"
	subjectAlerts = "sessions.alerts"
	subjectClosed = "sessions.closed"
)

// NATSPublisher implements session.Broadcaster over NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

// ConnectNATS dials the server with infinite reconnects and returns a
// publisher rooted at the given subject prefix.
func ConnectNATS(url, prefix string, log *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("vigild"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}, nil
}

// SessionClosedEvent is the wire form of a session close notification.
type SessionClosedEvent struct {
	Session session.Snapshot `json:"session"`
	Reason  string           `json:"reason"`
}

// ScoreUpdated publishes the latest snapshot.
func (p *NATSPublisher) ScoreUpdated(snap session.Snapshot) {
	p.publish(subjectScores, snap)
}

// AlertRaised publishes the alert together with the snapshot that raised it.
func (p *NATSPublisher) AlertRaised(alert session.Alert, snap session.Snapshot) {
	p.publish(subjectAlerts, struct {
		Alert   session.Alert    `json:"alert"`
		Session session.Snapshot `json:"session"`
	}{alert, snap})
}

// SessionClosed publishes the final snapshot and close reason.
func (p *NATSPublisher) SessionClosed(snap session.Snapshot, reason string) {
	p.publish(subjectClosed, SessionClosedEvent{Session: snap, Reason: reason})
}

// Close flushes pending publishes and drops the connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Flush()
	p.conn.Close()
}

func (p *NATSPublisher) publish(subject string, data any) {
	bytes, err := json.Marshal(data)
	if err != nil {
		p.log.Error("broadcast.marshal_failed", "subject", subject, "err", err)
		return
	}
	full := p.prefix + "." + subject
	if err := p.conn.Publish(full, bytes); err != nil {
		metrics.BroadcastsDropped.Inc()
		p.log.Warn("broadcast.publish_failed", "subject", full, "err", err)
	}
}
