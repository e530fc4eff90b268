package newsdedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
	"github.com/siherrmann/newsdedup/core/coordinator"
	"github.com/siherrmann/newsdedup/core/ingest"
	"github.com/siherrmann/newsdedup/core/notify"
	"github.com/siherrmann/newsdedup/core/pipeline"
	"github.com/siherrmann/newsdedup/database"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
	loadSql "github.com/siherrmann/newsdedup/sql"
)

// Options replaces single stages. Nil fields are built from the configuration.
// A given Embedder is wrapped with canonicalization and normalization like a configured one.
type Options struct {
	Source   pipeline.Source
	Embedder pipeline.Embedder
	Notifier pipeline.Notifier
	Index    pipeline.Index
	Logger   *slog.Logger
}

// NewsDedup wires the database, the stages and the coordinator
type NewsDedup struct {
	Config      model.Config
	DB          *helper.Database
	Articles    *database.ArticlesDBHandler // Nil when running without a database
	Index       pipeline.Index
	Source      pipeline.Source
	Embedder    pipeline.Embedder
	Notifier    pipeline.Notifier
	Coordinator *coordinator.Coordinator
	// Logging
	log     *slog.Logger
	closers []func() error
}

// New creates a NewsDedup instance.
// With a nil dbConfig and no index in opts the history lives in memory and is lost on Close.
func New(config model.Config, dbConfig *helper.DatabaseConfiguration, opts Options) (_ *NewsDedup, err error) {
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("validate config", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = helper.NewLogger(slog.LevelInfo)
	}

	d := &NewsDedup{Config: config, log: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	// Index
	d.Index = opts.Index
	if d.Index == nil && dbConfig != nil {
		db, articles, err := OpenIndex(dbConfig, config.Dedup.Dimension, false, logger)
		if err != nil {
			return nil, err
		}
		d.DB = db
		d.Articles = articles
		d.Index = articles
		d.closers = append(d.closers, db.Close)
	}
	if d.Index == nil {
		logger.Warn("No database configured, using in-memory index")
		d.Index = pipeline.NewMemoryIndex()
	}

	// Source
	d.Source = opts.Source
	if d.Source == nil {
		if config.CandidatesFile == "" {
			return nil, helper.NewError("create source", fmt.Errorf("no candidates file configured"))
		}
		d.Source = ingest.NewJSONFileSource(config.CandidatesFile, logger)
	}

	// Embedder
	if opts.Embedder != nil {
		d.Embedder = canonical(opts.Embedder, config.Dedup.MaxChars)
	} else {
		embedder, closeEmbedder, err := NewEmbedder(config)
		if err != nil {
			return nil, err
		}
		d.Embedder = embedder
		d.closers = append(d.closers, closeEmbedder)
	}

	// Notifier
	d.Notifier = opts.Notifier
	if d.Notifier == nil {
		notifier, closeNotifier, err := NewNotifier(config.Notifier, logger)
		if err != nil {
			return nil, err
		}
		d.Notifier = notifier
		d.closers = append(d.closers, closeNotifier)
	}

	d.Coordinator, err = coordinator.New(d.Source, d.Embedder, d.Index, d.Notifier, config, logger)
	if err != nil {
		return nil, helper.NewError("create coordinator", err)
	}

	return d, nil
}

func canonical(embedder pipeline.Embedder, maxChars int) pipeline.Embedder {
	if c, ok := embedder.(*pipeline.CanonicalEmbedder); ok {
		return c
	}
	return pipeline.NewCanonicalEmbedder(embedder, maxChars)
}

// OpenIndex connects to PostgreSQL and prepares the articles table for dimension.
// With reload the SQL functions are replaced even if they already exist.
func OpenIndex(dbConfig *helper.DatabaseConfiguration, dimension int, reload bool, logger *slog.Logger) (*helper.Database, *database.ArticlesDBHandler, error) {
	db, err := helper.NewDatabase("newsdedup", dbConfig, logger)
	if err != nil {
		return nil, nil, helper.NewError("connect database", err)
	}

	err = loadSql.Init(db.Instance)
	if err != nil {
		_ = db.Close()
		return nil, nil, helper.NewError("initialize database extensions", err)
	}

	articles, err := database.NewArticlesDBHandler(db, dimension, reload)
	if err != nil {
		_ = db.Close()
		return nil, nil, helper.NewError("create articles handler", err)
	}

	return db, articles, nil
}

// NewEmbedder builds the configured provider behind the cache and the canonicalization.
// The returned func releases the provider.
func NewEmbedder(config model.Config) (pipeline.Embedder, func() error, error) {
	var base pipeline.Embedder
	closer := func() error { return nil }
	modelName := config.Embedder.Model

	switch config.Embedder.Provider {
	case "openai":
		if modelName == "" {
			modelName = string(openai.SmallEmbedding3)
		}
		embedderConfig := config.Embedder
		embedderConfig.Model = modelName
		embedder, err := pipeline.NewOpenAIEmbedder(embedderConfig, config.Dedup.Dimension)
		if err != nil {
			return nil, nil, helper.NewError("create openai embedder", err)
		}
		base = embedder
	case "hugot":
		if modelName == "" {
			modelName = pipeline.DefaultModelName
		}
		embedder, err := pipeline.NewHugotEmbedder(config.Embedder.ModelDir, modelName, config.Embedder.OnnxFilePath, config.Dedup.Dimension)
		if err != nil {
			return nil, nil, helper.NewError("create hugot embedder", err)
		}
		base = embedder
		closer = embedder.Close
	default:
		return nil, nil, helper.NewError("create embedder", fmt.Errorf("unknown embedder provider %q", config.Embedder.Provider))
	}

	if config.Embedder.CacheTTL > 0 {
		base = pipeline.NewCachedEmbedder(base, modelName, config.Embedder.CacheTTL)
	}

	return canonical(base, config.Dedup.MaxChars), closer, nil
}

// NewNotifier builds the configured notifier. The returned func flushes and closes it.
func NewNotifier(config model.NotifierConfig, logger *slog.Logger) (pipeline.Notifier, func() error, error) {
	switch config.Kind {
	case "kafka":
		notifier, err := notify.NewKafkaNotifier(config, logger)
		if err != nil {
			return nil, nil, err
		}
		return notifier, notifier.Close, nil
	case "log", "":
		return notify.NewLogNotifier(logger), func() error { return nil }, nil
	default:
		return nil, nil, helper.NewError("create notifier", fmt.Errorf("unknown notifier kind %q", config.Kind))
	}
}

// Run processes companies. Without companies the configured list is used,
// and without a configured list every company of the candidates file.
func (n *NewsDedup) Run(ctx context.Context, companies []string) (model.RunReport, error) {
	if len(companies) == 0 {
		companies = n.Config.Companies
	}
	if len(companies) == 0 {
		lister, ok := n.Source.(interface{ Companies() ([]string, error) })
		if !ok {
			return model.RunReport{}, helper.NewError("run", fmt.Errorf("no companies configured"))
		}
		listed, err := lister.Companies()
		if err != nil {
			return model.RunReport{}, helper.NewError("list companies", err)
		}
		companies = listed
	}

	n.log.Info("Starting run", slog.Int("companies", len(companies)), slog.Float64("threshold", n.Config.Dedup.Threshold))

	return n.Coordinator.Run(ctx, companies), nil
}

// Stats returns the stored history per namespace. An empty company returns all namespaces.
func (n *NewsDedup) Stats(ctx context.Context, company string) ([]model.NamespaceStats, error) {
	namespace := model.NamespaceFor(company)

	if n.Articles != nil {
		return n.Articles.SelectNamespaceStats(ctx, namespace)
	}

	memory, ok := n.Index.(*pipeline.MemoryIndex)
	if !ok {
		return nil, helper.NewError("stats", fmt.Errorf("index does not support statistics"))
	}
	stats := []model.NamespaceStats{}
	for _, s := range memory.Stats() {
		if namespace == "" || s.Namespace == namespace {
			stats = append(stats, s)
		}
	}
	return stats, nil
}

// Close releases the embedder, the notifier and the database connection
func (n *NewsDedup) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
