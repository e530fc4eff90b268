package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siherrmann/newsdedup/helper"
)

// IndexType is a pgvector index method.
type IndexType string

const (
	IndexTypeHNSW    IndexType = "hnsw"
	IndexTypeIVFFlat IndexType = "ivfflat"
)

// ChangeIndexType rebuilds the embedding index of news_articles as HNSW or IVFFlat.
// params are optional:
//   - For HNSW: "m" (int, default 16), "ef_construction" (int, default 64)
//   - For IVFFlat: "lists" (int, default 100)
func (h *ArticlesDBHandler) ChangeIndexType(ctx context.Context, indexType IndexType, params map[string]int) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var createIndexSQL string
	switch indexType {
	case IndexTypeHNSW:
		m := paramOrDefault(params, "m", 16)
		efConstruction := paramOrDefault(params, "ef_construction", 64)
		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX idx_news_articles_embedding ON news_articles USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			m, efConstruction,
		)
	case IndexTypeIVFFlat:
		lists := paramOrDefault(params, "lists", 100)
		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX idx_news_articles_embedding ON news_articles USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			lists,
		)
	default:
		return helper.NewError("change index type", fmt.Errorf("unsupported index type: %s (use 'hnsw' or 'ivfflat')", indexType))
	}

	tx, err := h.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_news_articles_embedding;`)
	if err != nil {
		return classify("drop index", err)
	}

	_, err = tx.ExecContext(ctx, createIndexSQL)
	if err != nil {
		return classify("create index", err)
	}

	if err = tx.Commit(); err != nil {
		return classify("commit", err)
	}

	h.db.Logger.Info("Rebuilt vector index", slog.String("type", string(indexType)), slog.Any("params", params))

	return nil
}

func paramOrDefault(params map[string]int, key string, def int) int {
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return def
}
