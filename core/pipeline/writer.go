package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
)

var errNilIndex = errors.New("index is nil")

// Writer persists NEW articles to the index in batches.
type Writer struct {
	index        Index
	batchSize    int
	retry        helper.RetryConfig
	writeTimeout time.Duration
	log          *slog.Logger
	now          func() time.Time
}

// NewWriter creates a storage writer.
func NewWriter(index Index, config model.StorageConfig, writeTimeout time.Duration, logger *slog.Logger) (*Writer, error) {
	if index == nil {
		return nil, helper.NewError("writer validation", errNilIndex)
	}
	if config.BatchSize < 1 {
		return nil, helper.NewError("writer validation", fmt.Errorf("batch size must be at least 1, got %d", config.BatchSize))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		index:        index,
		batchSize:    config.BatchSize,
		retry:        config.Retry,
		writeTimeout: writeTimeout,
		log:          logger.With("component", "writer"),
		now:          time.Now,
	}, nil
}

// Store writes every NEW article of articles to namespace.
// Ids of a failed batch are retried one by one with backoff. Ids that still fail
// are returned in FailedIDs and logged, they do not fail the call.
func (w *Writer) Store(ctx context.Context, namespace string, articles []model.ClassifiedArticle) model.StorageResult {
	result := model.StorageResult{StoredIDs: []string{}, FailedIDs: []string{}}

	storedAt := w.now()
	entries := []model.IndexEntry{}
	for _, a := range articles {
		if a.Decision == model.DecisionNew {
			entries = append(entries, a.IndexEntry(storedAt))
		}
	}
	result.Total = len(entries)

	for start := 0; start < len(entries); start += w.batchSize {
		end := min(start+w.batchSize, len(entries))
		batch := entries[start:end]

		stored, failed := w.storeBatch(ctx, namespace, batch)
		result.StoredIDs = append(result.StoredIDs, stored...)
		result.FailedIDs = append(result.FailedIDs, failed...)
	}

	result.StoredCount = len(result.StoredIDs)
	if len(result.FailedIDs) > 0 {
		w.log.Error("Articles not stored", slog.String("namespace", namespace), slog.Any("failed_ids", result.FailedIDs), slog.String("error", model.ErrStorageWrite.Error()))
	}

	return result
}

func (w *Writer) storeBatch(ctx context.Context, namespace string, batch []model.IndexEntry) ([]string, []string) {
	batchCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	failedIDs, err := w.index.UpsertBatch(batchCtx, namespace, batch)
	cancel()
	if err != nil {
		w.log.Warn("Batch upsert failed, retrying entries individually", slog.String("namespace", namespace), slog.Int("size", len(batch)), slog.String("error", err.Error()))
		if len(failedIDs) == 0 {
			failedIDs = entryIDs(batch)
		}
	}

	failedSet := make(map[string]bool, len(failedIDs))
	for _, id := range failedIDs {
		failedSet[id] = true
	}

	stored := []string{}
	failed := []string{}
	for _, entry := range batch {
		if !failedSet[entry.ArticleID] {
			stored = append(stored, entry.ArticleID)
			continue
		}

		if err := w.retryEntry(ctx, namespace, entry); err != nil {
			w.log.Warn("Entry not stored", slog.String("namespace", namespace), slog.String("article_id", entry.ArticleID), slog.String("error", err.Error()))
			failed = append(failed, entry.ArticleID)
			continue
		}
		stored = append(stored, entry.ArticleID)
	}

	return stored, failed
}

func (w *Writer) retryEntry(ctx context.Context, namespace string, entry model.IndexEntry) error {
	err := helper.Retry(ctx, w.retry, func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}, func(ctx context.Context) error {
		entryCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
		defer cancel()
		return w.index.Upsert(entryCtx, namespace, entry)
	}, nil)
	if err != nil {
		return helper.NewError("store entry", fmt.Errorf("%w: %w", model.ErrStorageWrite, err))
	}
	return nil
}
