// Package events publishes session lifecycle events on a watermill bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashureev/interviewd/internal/domain"
)

// Type names a lifecycle event.
type Type string

const (
	SessionCreated   Type = "session.created"
	SessionInitiated Type = "session.initiated"
	SessionStarted   Type = "session.started"
	SessionEnded     Type = "session.ended"
	SessionExpired   Type = "session.expired"
)

// Event is a lifecycle transition of one session.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind,omitempty"`
	Status    domain.Status  `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event for session's current state.
func NewEvent(t Type, session *domain.Session, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		SessionID: session.ID,
		Kind:      session.Kind,
		Status:    session.Status,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Publisher publishes lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus publishes and subscribes to lifecycle events on one topic.
type Bus struct {
	pub     message.Publisher
	sub     message.Subscriber
	topic   string
	logger  *slog.Logger
	closers []func() error
}

// NewMemoryBus returns an in-process bus.
func NewMemoryBus(topic string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewSlogLogger(logger))

	return &Bus{pub: ch, sub: ch, topic: topic, logger: logger, closers: []func() error{ch.Close}}
}

// RedisConfig configures a Redis Streams backed bus.
type RedisConfig struct {
	Addr     string
	Topic    string
	Group    string
	Consumer string
}

// NewRedisBus returns a bus backed by Redis Streams so events outlive the process.
func NewRedisBus(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}

	if err := ensureGroupAtTail(ctx, client, cfg.Topic, cfg.Group); err != nil {
		_ = client.Close()
		return nil, err
	}

	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	wlogger := watermill.NewSlogLogger(logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wlogger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create redis publisher: %w", err)
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: cfg.Group,
		Consumer:      cfg.Consumer,
	}, wlogger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("create redis subscriber: %w", err)
	}

	logger.Info("Event bus connected to Redis", "addr", cfg.Addr, "topic", cfg.Topic, "group", cfg.Group)

	return &Bus{
		pub:     pub,
		sub:     sub,
		topic:   cfg.Topic,
		logger:  logger,
		closers: []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

// ensureGroupAtTail creates the consumer group at the stream tail so a new
// consumer does not replay history.
func ensureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	if group == "" {
		return nil
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", group, err)
	}
	return nil
}

// Publish sends e on the bus topic.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set("type", string(e.Type))
	msg.Metadata.Set("session_id", e.SessionID)
	msg.SetContext(ctx)

	if err := b.pub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Subscribe returns the stream of raw messages on the bus topic.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	return ch, nil
}

// Decode extracts the event carried by msg.
func Decode(msg *message.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return e, nil
}

// Close releases the publisher, subscriber and any client connection.
func (b *Bus) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
