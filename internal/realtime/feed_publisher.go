package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
)

const (
	contentFeedExchange     = "story_content_feed"
	contentFeedExchangeType = "fanout"
)

// ContentFeedPayload is the message posted to the external content feed when
// the crowd's choice advances the story.
type ContentFeedPayload struct {
	InstanceID      string    `json:"instanceId"`
	ChapterTitle    string    `json:"chapterTitle"`
	ChapterContent  string    `json:"chapterContent"`
	WinningChoiceID string    `json:"winningChoiceId"`
	Ended           bool      `json:"ended"`
	OutcomeKind     string    `json:"outcomeKind,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// ContentFeedPublisher forwards chosen narrative text to the external
// content feed collaborator over a durable fanout exchange. Optional: a nil
// publisher is a no-op, and like the realtime path, failures are logged and
// swallowed by the caller.
type ContentFeedPublisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

// NewContentFeedPublisher opens a channel and declares the feed exchange.
func NewContentFeedPublisher(conn *amqp.Connection, logger *zap.Logger) (*ContentFeedPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		contentFeedExchange,
		contentFeedExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", contentFeedExchange, err)
	}
	logger.Info("Content feed exchange declared", zap.String("exchange", contentFeedExchange))
	return &ContentFeedPublisher{
		conn:   conn,
		ch:     ch,
		logger: logger.Named("ContentFeedPublisher"),
	}, nil
}

// Publish posts a payload to the feed exchange.
func (p *ContentFeedPublisher) Publish(ctx context.Context, payload ContentFeedPayload) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal content feed payload: %w", err)
	}
	err = p.ch.PublishWithContext(ctx,
		contentFeedExchange,
		"",    // routing key unused for fanout
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish content feed event", zap.Error(err),
			zap.String("instanceID", payload.InstanceID))
		return fmt.Errorf("publish content feed event: %w: %w", models.ErrPublish, err)
	}
	return nil
}

// Close releases the channel.
func (p *ContentFeedPublisher) Close() error {
	if p == nil || p.ch == nil {
		return nil
	}
	return p.ch.Close()
}
