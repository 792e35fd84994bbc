// Package notify records terminal build outcomes and optionally publishes
// them as lifecycle events over NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/model"
	"git.home.luguber.info/inful/fixbot/internal/store"
)

// NATS subjects for build lifecycle events.
const (
	SubjectBuildCompleted = "fixbot.build.completed"
	SubjectBuildFailed    = "fixbot.build.failed"
)

// Event is the payload published for a finished build.
type Event struct {
	BuildID     string    `json:"build_id"`
	Job         string    `json:"job"`
	BuildNumber int       `json:"build_number"`
	Status      string    `json:"status"`
	PRURL       string    `json:"pr_url,omitempty"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher is the optional NATS side of the notifier.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS. An empty URL disables publishing and
// returns a nil Publisher, which is safe to use.
func NewPublisher(url string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("NATS publisher connected", logfields.URL(url))
	return &Publisher{conn: conn}, nil
}

// Publish sends one event. A nil Publisher drops it silently.
func (p *Publisher) Publish(subject string, evt Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.conn.Publish(subject, data)
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}

// Notifier persists notification rows and fans out lifecycle events.
type Notifier struct {
	store     *store.Store
	publisher *Publisher
}

// New builds a Notifier. publisher may be nil.
func New(s *store.Store, publisher *Publisher) *Notifier {
	return &Notifier{store: s, publisher: publisher}
}

// BuildFinished records the terminal outcome for a build. The notification
// row is the source of truth; a NATS publish failure is logged, not fatal.
func (n *Notifier) BuildFinished(ctx context.Context, build *model.Build, success bool, message, prURL string) error {
	if err := n.store.SaveNotification(ctx, &model.Notification{
		ID:      uuid.NewString(),
		BuildID: build.ID,
		Success: success,
		Message: message,
	}); err != nil {
		return err
	}

	subject := SubjectBuildCompleted
	if !success {
		subject = SubjectBuildFailed
	}
	evt := Event{
		BuildID:     build.ID,
		Job:         build.Job,
		BuildNumber: build.BuildNumber,
		Status:      string(build.Status),
		PRURL:       prURL,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}
	if err := n.publisher.Publish(subject, evt); err != nil {
		slog.Warn("Failed to publish build event",
			logfields.BuildID(build.ID),
			slog.String("subject", subject),
			logfields.Error(err))
	}

	slog.Info("Build notification recorded",
		logfields.BuildID(build.ID),
		logfields.Job(build.Job),
		logfields.BuildNumber(build.BuildNumber),
		slog.Bool("success", success))
	return nil
}
