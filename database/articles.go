package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
	loadSql "github.com/siherrmann/newsdedup/sql"
)

// ArticlesDBHandlerFunctions defines the interface for stored article operations.
type ArticlesDBHandlerFunctions interface {
	Ping(ctx context.Context) error
	QueryNearest(ctx context.Context, namespace string, embedding []float32, topK int) ([]model.Neighbor, error)
	Upsert(ctx context.Context, namespace string, entry model.IndexEntry) error
	UpsertBatch(ctx context.Context, namespace string, entries []model.IndexEntry) ([]string, error)
	SelectArticle(ctx context.Context, namespace string, articleID string) (*model.IndexEntry, error)
	SelectNamespaceStats(ctx context.Context, namespace string) ([]model.NamespaceStats, error)
	DeleteNamespace(ctx context.Context, namespace string) (int64, error)
}

var _ ArticlesDBHandlerFunctions = (*ArticlesDBHandler)(nil)

// ArticlesDBHandler is the pgvector backed similarity index.
type ArticlesDBHandler struct {
	db        *helper.Database
	dimension int
	builder   sq.StatementBuilderType
}

// NewArticlesDBHandler creates a new articles database handler.
// It loads the article SQL functions and creates the table for the given dimension.
// If force is true, it will reload the SQL functions even if they already exist.
func NewArticlesDBHandler(db *helper.Database, embeddingDim int, force bool) (*ArticlesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim < 1 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	articlesDbHandler := &ArticlesDBHandler{
		db:        db,
		dimension: embeddingDim,
		builder:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}

	err := loadSql.LoadArticlesSql(articlesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load articles sql", err)
	}

	err = articlesDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ArticlesDBHandler", slog.Int("dimension", embeddingDim))

	return articlesDbHandler, nil
}

// CreateTable creates the 'news_articles' table and its indexes if they don't exist.
// An existing table with a different embedding dimension is an error.
func (h *ArticlesDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_articles($1);`, embeddingDim)
	if err != nil {
		return classify("init articles", err)
	}

	var existing sql.NullInt64
	err = h.db.Instance.QueryRowContext(ctx, `SELECT select_articles_dimension();`).Scan(&existing)
	if err != nil {
		return classify("select dimension", err)
	}
	if existing.Valid && int(existing.Int64) != embeddingDim {
		return helper.NewError("check dimension", fmt.Errorf("table news_articles has dimension %d, embedder produces %d", existing.Int64, embeddingDim))
	}

	h.db.Logger.Info("Checked/created table news_articles")

	return nil
}

// Dimension returns the embedding dimension of the index.
func (h *ArticlesDBHandler) Dimension() int {
	return h.dimension
}

// Ping checks that the database is reachable.
func (h *ArticlesDBHandler) Ping(ctx context.Context) error {
	return classify("ping", h.db.Instance.PingContext(ctx))
}

// QueryNearest returns up to topK entries of the namespace ordered by cosine similarity, highest first.
// An empty namespace returns an empty slice. Entries with unreadable metadata are skipped and logged.
func (h *ArticlesDBHandler) QueryNearest(ctx context.Context, namespace string, embedding []float32, topK int) ([]model.Neighbor, error) {
	if err := h.checkDimension(embedding); err != nil {
		return nil, helper.NewError("query nearest", err)
	}
	if topK < 1 {
		topK = 1
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_nearest_articles($1, $2, $3)`,
		namespace,
		pgvector.NewVector(embedding),
		topK,
	)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	neighbors := []model.Neighbor{}
	for rows.Next() {
		var neighbor model.Neighbor
		var similarity sql.NullFloat64
		var rawMetadata []byte
		err := rows.Scan(&neighbor.ArticleID, &similarity, &rawMetadata)
		if err != nil {
			return nil, classify("scan", err)
		}

		if !similarity.Valid || math.IsNaN(similarity.Float64) {
			h.logCorrupt(namespace, neighbor.ArticleID, fmt.Errorf("similarity is not a number"))
			continue
		}
		if err := neighbor.Metadata.Unmarshal(rawMetadata); err != nil {
			h.logCorrupt(namespace, neighbor.ArticleID, err)
			continue
		}

		neighbor.Similarity = similarity.Float64
		neighbors = append(neighbors, neighbor)
	}

	if err = rows.Err(); err != nil {
		return nil, classify("rows error", err)
	}

	return neighbors, nil
}

// Upsert inserts or overwrites one entry.
func (h *ArticlesDBHandler) Upsert(ctx context.Context, namespace string, entry model.IndexEntry) error {
	if err := h.checkDimension(entry.Embedding); err != nil {
		return helper.NewError("upsert", err)
	}
	if entry.Metadata.StoredAt.IsZero() {
		entry.Metadata.StoredAt = time.Now().UTC()
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_article($1, $2, $3, $4, $5)`,
		namespace,
		entry.ArticleID,
		pgvector.NewVector(entry.Embedding),
		entry.Metadata,
		entry.Metadata.StoredAt,
	)

	var articleID string
	var storedAt time.Time
	err := row.Scan(&articleID, &storedAt)
	if err != nil {
		return classify("scan", err)
	}

	return nil
}

// UpsertBatch writes all entries in one statement.
// It returns the ids that were not confirmed by the database. On a statement error all ids are returned.
// Entries with a wrong dimension are reported as failed without failing the rest of the batch.
func (h *ArticlesDBHandler) UpsertBatch(ctx context.Context, namespace string, entries []model.IndexEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	failed := []string{}
	order := []string{}
	latest := map[string]model.IndexEntry{}
	for _, entry := range entries {
		if err := h.checkDimension(entry.Embedding); err != nil {
			h.db.Logger.Warn("Skipping entry with invalid embedding", slog.String("namespace", namespace), slog.String("article_id", entry.ArticleID), slog.String("error", err.Error()))
			failed = append(failed, entry.ArticleID)
			continue
		}
		if entry.Metadata.StoredAt.IsZero() {
			entry.Metadata.StoredAt = now
		}
		// One statement cannot update the same row twice, the last entry wins
		if _, ok := latest[entry.ArticleID]; !ok {
			order = append(order, entry.ArticleID)
		}
		latest[entry.ArticleID] = entry
	}
	if len(order) == 0 {
		return failed, nil
	}

	insert := h.builder.
		Insert("news_articles").
		Columns("namespace", "article_id", "embedding", "metadata", "stored_at")
	for _, id := range order {
		entry := latest[id]
		insert = insert.Values(namespace, entry.ArticleID, pgvector.NewVector(entry.Embedding), entry.Metadata, entry.Metadata.StoredAt)
	}
	insert = insert.Suffix(`ON CONFLICT (namespace, article_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata, stored_at = EXCLUDED.stored_at
		RETURNING article_id`)

	query, args, err := insert.ToSql()
	if err != nil {
		return append(failed, order...), helper.NewError("build upsert", err)
	}

	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return append(failed, order...), classify("upsert batch", err)
	}
	defer rows.Close()

	confirmed := make(map[string]bool, len(order))
	for rows.Next() {
		var articleID string
		if err := rows.Scan(&articleID); err != nil {
			return append(failed, order...), classify("scan", err)
		}
		confirmed[articleID] = true
	}
	if err := rows.Err(); err != nil {
		return append(failed, order...), classify("rows error", err)
	}

	for _, id := range order {
		if !confirmed[id] {
			failed = append(failed, id)
		}
	}

	return failed, nil
}

// SelectArticle returns one stored entry or nil if it does not exist.
func (h *ArticlesDBHandler) SelectArticle(ctx context.Context, namespace string, articleID string) (*model.IndexEntry, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_article($1, $2)`,
		namespace,
		articleID,
	)

	entry := &model.IndexEntry{}
	var embedding pgvector.Vector
	var rawMetadata []byte
	var storedAt time.Time
	err := row.Scan(&entry.ArticleID, &embedding, &rawMetadata, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("scan", err)
	}

	if err := entry.Metadata.Unmarshal(rawMetadata); err != nil {
		return nil, helper.NewError("metadata", fmt.Errorf("%w: %w", model.ErrIndexCorrupt, err))
	}
	entry.Embedding = embedding.Slice()
	entry.Metadata.StoredAt = storedAt.UTC()

	return entry, nil
}

// SelectNamespaceStats counts stored entries per namespace.
// An empty namespace selects all namespaces.
func (h *ArticlesDBHandler) SelectNamespaceStats(ctx context.Context, namespace string) ([]model.NamespaceStats, error) {
	query := h.builder.
		Select("namespace", "COUNT(*)", "MAX(stored_at)").
		From("news_articles").
		GroupBy("namespace").
		OrderBy("namespace")
	if namespace != "" {
		query = query.Where(sq.Eq{"namespace": namespace})
	}

	statement, args, err := query.ToSql()
	if err != nil {
		return nil, helper.NewError("build stats query", err)
	}

	rows, err := h.db.Instance.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	stats := []model.NamespaceStats{}
	for rows.Next() {
		var s model.NamespaceStats
		if err := rows.Scan(&s.Namespace, &s.Entries, &s.LastStoredAt); err != nil {
			return nil, classify("scan", err)
		}
		s.LastStoredAt = s.LastStoredAt.UTC()
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("rows error", err)
	}

	return stats, nil
}

// DeleteNamespace removes the complete history of a namespace and returns the number of deleted entries.
func (h *ArticlesDBHandler) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	var deleted int64
	err := h.db.Instance.QueryRowContext(ctx, `SELECT delete_namespace_articles($1)`, namespace).Scan(&deleted)
	if err != nil {
		return 0, classify("delete namespace", err)
	}

	h.db.Logger.Info("Deleted namespace", slog.String("namespace", namespace), slog.Int64("entries", deleted))

	return deleted, nil
}

func (h *ArticlesDBHandler) checkDimension(embedding []float32) error {
	if len(embedding) != h.dimension {
		return fmt.Errorf("embedding has dimension %d, index expects %d", len(embedding), h.dimension)
	}
	return nil
}

func (h *ArticlesDBHandler) logCorrupt(namespace string, articleID string, err error) {
	h.db.Logger.Warn(
		"Skipping corrupt index entry",
		slog.String("namespace", namespace),
		slog.String("article_id", articleID),
		slog.String("error", helper.NewError("read entry", fmt.Errorf("%w: %w", model.ErrIndexCorrupt, err)).Error()),
	)
}
