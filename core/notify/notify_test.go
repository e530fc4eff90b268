package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/siherrmann/newsdedup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   int
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

func testDigest() model.Digest {
	return model.Digest{
		Company:   "Acme Corp",
		Namespace: "acme-corp",
		Articles: []model.Article{
			{ID: "a", Title: "Acme acquires Beta", SourceURL: "https://news.example.com/a", RelevanceScore: 0.9},
		},
		Storage:     model.StorageResult{StoredCount: 1, StoredIDs: []string{"a"}},
		GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogNotifier(t *testing.T) {
	t.Run("Logs the digest", func(t *testing.T) {
		var buf bytes.Buffer
		n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

		require.NoError(t, n.Notify(context.Background(), testDigest()))
		assert.Contains(t, buf.String(), "Acme Corp")
		assert.Contains(t, buf.String(), "Acme acquires Beta")
	})

	t.Run("Cancelled context fails", func(t *testing.T) {
		n := NewLogNotifier(nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, n.Notify(ctx, testDigest()), model.ErrNotification)
	})
}

func TestBuildMessage(t *testing.T) {
	message, err := BuildMessage(testDigest())
	require.NoError(t, err)

	assert.Equal(t, []byte("acme-corp"), message.Key)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), message.Time)
	require.Len(t, message.Headers, 2)
	assert.Equal(t, "company", message.Headers[0].Key)
	assert.Equal(t, []byte("Acme Corp"), message.Headers[0].Value)

	var decoded model.Digest
	require.NoError(t, json.Unmarshal(message.Value, &decoded))
	assert.Equal(t, "Acme Corp", decoded.Company)
	require.Len(t, decoded.Articles, 1)
	assert.Equal(t, "a", decoded.Articles[0].ID)
}

func TestKafkaNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("Configuration is validated", func(t *testing.T) {
		_, err := NewKafkaNotifier(model.NotifierConfig{Kind: "kafka", Topic: "news-digests"}, nil)
		assert.Error(t, err)

		_, err = NewKafkaNotifier(model.NotifierConfig{Kind: "kafka", Brokers: []string{"localhost:9092"}}, nil)
		assert.Error(t, err)

		n, err := NewKafkaNotifier(model.NotifierConfig{Kind: "kafka", Brokers: []string{"localhost:9092"}, Topic: "news-digests"}, nil)
		require.NoError(t, err)
		assert.NoError(t, n.Close())
	})

	t.Run("Publishes one message per digest", func(t *testing.T) {
		writer := &fakeWriter{}
		n := newKafkaNotifier(writer, nil)

		require.NoError(t, n.Notify(ctx, testDigest()))
		require.Len(t, writer.messages, 1)
		assert.Equal(t, []byte("acme-corp"), writer.messages[0].Key)
	})

	t.Run("Write failure is a notification error", func(t *testing.T) {
		n := newKafkaNotifier(&fakeWriter{err: errors.New("broker down")}, nil)

		err := n.Notify(ctx, testDigest())
		assert.ErrorIs(t, err, model.ErrNotification)
		assert.Contains(t, err.Error(), "broker down")
	})

	t.Run("Closed notifier rejects digests", func(t *testing.T) {
		writer := &fakeWriter{}
		n := newKafkaNotifier(writer, nil)

		require.NoError(t, n.Close())
		require.NoError(t, n.Close())
		assert.Equal(t, 1, writer.closed)
		assert.ErrorIs(t, n.Notify(ctx, testDigest()), ErrNotifierClosed)
	})
}
