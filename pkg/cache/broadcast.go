package cache

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/andrfilipenk/new-sub001/pkg/tracing"
)

// InvalidationEvent is the wire form of one cross-process invalidation.
// Processes sharing the L2/L3 backends publish these so peers can evict
// their scope-local levels instead of waiting for TTL expiry.
type InvalidationEvent struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"` // entity, entity_type, tag, clear
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   int64     `json:"entity_id,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Origin     string    `json:"origin"`
	Timestamp  time.Time `json:"timestamp"`
}

// BroadcasterConfig holds Kafka settings for the invalidation topic.
type BroadcasterConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// Broadcaster publishes invalidation events. Each process also runs a
// Listener on the same topic; events carry an origin id so a process skips
// its own.
type Broadcaster struct {
	writer *kafka.Writer
	origin string
	logger ectologger.Logger
}

// NewBroadcaster creates a producer on the invalidation topic.
func NewBroadcaster(cfg BroadcasterConfig, logger ectologger.Logger) *Broadcaster {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Broadcaster{
		writer: writer,
		origin: uuid.New().String(),
		logger: logger,
	}
}

// Origin returns this process's origin id.
func (b *Broadcaster) Origin() string { return b.origin }

// Close closes the underlying writer.
func (b *Broadcaster) Close() error { return b.writer.Close() }

// Publish emits one invalidation event.
func (b *Broadcaster) Publish(ctx context.Context, event InvalidationEvent) error {
	ctx, span := tracing.StartSpan(ctx, "cache.Broadcaster.Publish")
	defer span.End()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Origin = b.origin

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.EntityType),
		Value: data,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "origin", Value: []byte(event.Origin)},
		},
	}

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		b.logger.WithContext(ctx).WithError(err).Error("failed to publish invalidation event")
		return err
	}

	b.logger.WithContext(ctx).WithFields(map[string]any{
		"action":      event.Action,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
	}).Debug("published invalidation event")
	return nil
}

// PublishEntity broadcasts an entity-level invalidation.
func (b *Broadcaster) PublishEntity(ctx context.Context, entityType string, entityID int64) error {
	return b.Publish(ctx, InvalidationEvent{Action: "entity", EntityType: entityType, EntityID: entityID})
}

// PublishEntityType broadcasts a type-level invalidation.
func (b *Broadcaster) PublishEntityType(ctx context.Context, entityType string) error {
	return b.Publish(ctx, InvalidationEvent{Action: "entity_type", EntityType: entityType})
}

// PublishTag broadcasts a tag invalidation.
func (b *Broadcaster) PublishTag(ctx context.Context, tag string) error {
	return b.Publish(ctx, InvalidationEvent{Action: "tag", Tag: tag})
}

// Listener consumes invalidation events and applies them to the local cache
// manager.
type Listener struct {
	reader  *kafka.Reader
	manager *Manager
	origin  string
	logger  ectologger.Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewListener creates a consumer applying peer invalidations to manager.
// origin is the local Broadcaster's id; events from it are skipped.
func NewListener(cfg BroadcasterConfig, manager *Manager, origin string, logger ectologger.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})
	return &Listener{
		reader:  reader,
		manager: manager,
		origin:  origin,
		logger:  logger,
	}
}

// Start begins consuming in the background.
func (l *Listener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go l.consumeLoop(ctx)

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": l.reader.Config().Topic,
	}).Info("invalidation listener started")
}

// Stop drains the loop and closes the reader.
func (l *Listener) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	return l.reader.Close()
}

func (l *Listener) consumeLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := l.reader.FetchMessage(ctx)
			if err != nil {
				if err == context.Canceled || err == io.EOF {
					return
				}
				l.logger.WithContext(ctx).WithError(err).Error("failed to fetch invalidation event")
				continue
			}
			l.handle(ctx, msg)
			if err := l.reader.CommitMessages(ctx, msg); err != nil {
				l.logger.WithContext(ctx).WithError(err).Warn("failed to commit invalidation offset")
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, msg kafka.Message) {
	ctx, span := tracing.StartSpan(ctx, "cache.Listener.handle")
	defer span.End()

	var event InvalidationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		l.logger.WithContext(ctx).WithError(err).Error("failed to decode invalidation event")
		return
	}
	if event.Origin == l.origin {
		return
	}

	switch event.Action {
	case "entity":
		l.manager.InvalidateEntity(ctx, event.EntityType, event.EntityID)
	case "entity_type":
		l.manager.InvalidateEntity(ctx, event.EntityType, 0)
	case "tag":
		l.manager.InvalidateByTag(ctx, event.Tag)
	case "clear":
		l.manager.Clear(ctx)
	default:
		l.logger.WithContext(ctx).WithFields(map[string]any{"action": event.Action}).Warn("unknown invalidation action")
		return
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"action":      event.Action,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
	}).Debug("applied peer invalidation")
}
