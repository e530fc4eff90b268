package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
)

// ErrNotifierClosed is returned after Close.
var ErrNotifierClosed = errors.New("notifier closed")

// LogNotifier writes digests to a logger.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier logging to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger.With("component", "notifier")}
}

// Notify logs a summary line and one line per article.
func (n *LogNotifier) Notify(ctx context.Context, digest model.Digest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrNotification, err)
	}

	n.log.Info("Digest",
		slog.String("company", digest.Company),
		slog.Int("articles", len(digest.Articles)),
		slog.Int("stored", digest.Storage.StoredCount),
		slog.Int("store_failed", len(digest.Storage.FailedIDs)),
	)
	for i, a := range digest.Articles {
		n.log.Info("Digest article",
			slog.Int("rank", i+1),
			slog.String("title", a.Title),
			slog.String("source_url", a.SourceURL),
			slog.Float64("relevance", a.RelevanceScore),
		)
	}
	return nil
}

// messageWriter is the part of kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes one JSON message per digest, keyed by namespace.
type KafkaNotifier struct {
	writer messageWriter
	log    *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(config model.NotifierConfig, logger *slog.Logger) (*KafkaNotifier, error) {
	if len(config.Brokers) == 0 {
		return nil, helper.NewError("kafka notifier", fmt.Errorf("no kafka brokers configured"))
	}
	if config.Topic == "" {
		return nil, helper.NewError("kafka notifier", fmt.Errorf("no kafka topic configured"))
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		Compression:  kafka.Gzip,
		RequiredAcks: kafka.RequireAll,
	}

	return newKafkaNotifier(writer, logger), nil
}

func newKafkaNotifier(writer messageWriter, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{writer: writer, log: logger.With("component", "notifier")}
}

// Notify publishes digest.
func (n *KafkaNotifier) Notify(ctx context.Context, digest model.Digest) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %w", model.ErrNotification, ErrNotifierClosed)
	}

	message, err := BuildMessage(digest)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrNotification, err)
	}

	if err := n.writer.WriteMessages(ctx, message); err != nil {
		return helper.NewError("kafka write", fmt.Errorf("%w: %w", model.ErrNotification, err))
	}

	n.log.Debug("Digest published", slog.String("namespace", digest.Namespace), slog.Int("articles", len(digest.Articles)))
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	return n.writer.Close()
}

// BuildMessage encodes digest as a kafka message.
func BuildMessage(digest model.Digest) (kafka.Message, error) {
	value, err := json.Marshal(digest)
	if err != nil {
		return kafka.Message{}, helper.NewError("marshal digest", err)
	}

	generatedAt := digest.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	return kafka.Message{
		Key:   []byte(digest.Namespace),
		Value: value,
		Time:  generatedAt,
		Headers: []kafka.Header{
			{Key: "company", Value: []byte(digest.Company)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}
