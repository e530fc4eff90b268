package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/siherrmann/newsdedup/core/pipeline"
	"github.com/siherrmann/newsdedup/core/worker"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
	"golang.org/x/sync/errgroup"
)

// Coordinator runs acquire, embed, deduplicate, store and notify for each company.
// Companies never share state besides the index.
type Coordinator struct {
	source   pipeline.Source
	embedder pipeline.Embedder
	index    pipeline.Index
	dedup    *pipeline.Deduplicator
	writer   *pipeline.Writer
	notifier pipeline.Notifier
	config   model.Config
	log      *slog.Logger
	now      func() time.Time
}

// New validates config and wires the stages.
func New(source pipeline.Source, embedder pipeline.Embedder, index pipeline.Index, notifier pipeline.Notifier, config model.Config, logger *slog.Logger) (*Coordinator, error) {
	if source == nil || embedder == nil || index == nil || notifier == nil {
		return nil, helper.NewError("coordinator validation", errors.New("source, embedder, index and notifier are required"))
	}
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("coordinator validation", err)
	}
	if embedder.Dimension() != config.Dedup.Dimension {
		return nil, helper.NewError("coordinator validation", fmt.Errorf("embedder dimension %d does not match configured dimension %d", embedder.Dimension(), config.Dedup.Dimension))
	}
	if logger == nil {
		logger = slog.Default()
	}

	dedup, err := pipeline.NewDeduplicator(index, config.Dedup, config.LookupRetry, config.Timeouts.Query, logger)
	if err != nil {
		return nil, helper.NewError("coordinator deduplicator", err)
	}
	writer, err := pipeline.NewWriter(index, config.Storage, config.Timeouts.Write, logger)
	if err != nil {
		return nil, helper.NewError("coordinator writer", err)
	}

	return &Coordinator{
		source:   source,
		embedder: embedder,
		index:    index,
		dedup:    dedup,
		writer:   writer,
		notifier: notifier,
		config:   config,
		log:      logger.With("component", "coordinator"),
		now:      time.Now,
	}, nil
}

// Run processes companies concurrently on a worker pool.
// Companies resolving to the same namespace are only run once.
// The reports have the order of the first occurrence in companies.
func (c *Coordinator) Run(ctx context.Context, companies []string) model.RunReport {
	report := model.RunReport{StartedAt: c.now(), Companies: []model.CompanyReport{}}

	unique := []string{}
	seen := map[string]bool{}
	for _, company := range companies {
		ns := model.NamespaceFor(company)
		if ns == "" {
			c.log.Warn("Skipping empty company name")
			continue
		}
		if seen[ns] {
			c.log.Warn("Skipping company with duplicate namespace", slog.String("company", company), slog.String("namespace", ns))
			continue
		}
		seen[ns] = true
		unique = append(unique, company)
	}

	pool := worker.NewPool(ctx, c.config.CompanyConcurrency)
	pool.Start()
	notScheduled := map[int]error{}
	for i, company := range unique {
		if err := pool.Submit(&companyJob{coordinator: c, company: company, position: i}); err != nil {
			c.log.Error("Company not scheduled", slog.String("company", company), slog.String("error", err.Error()))
			notScheduled[i] = err
		}
	}

	reports := make([]*model.CompanyReport, len(unique))
	for _, r := range pool.Wait() {
		result := r.(*companyResult)
		reports[result.position] = &result.report
	}

	// Every company gets a report, also when cancellation stopped the pool before its job ran
	for i, company := range unique {
		if reports[i] == nil {
			reports[i] = c.unscheduled(ctx, company, notScheduled[i])
		}
		report.Companies = append(report.Companies, *reports[i])
	}

	report.FinishedAt = c.now()
	totals := report.Totals()
	c.log.Info("Run finished",
		slog.Int("companies", len(report.Companies)),
		slog.Int("collected", totals.Collected),
		slog.Int("new", totals.New),
		slog.Int("duplicate", totals.Duplicate),
		slog.Int("stored", totals.Stored),
		slog.Int("failed", totals.Failed()),
		slog.Duration("duration", totals.Duration),
	)

	return report
}

// RunCompany runs the whole pipeline for one company.
// Article level failures are isolated and counted. Only an unreachable index or a failed
// acquisition aborts the company.
func (c *Coordinator) RunCompany(ctx context.Context, company string) (report model.CompanyReport) {
	start := c.now()
	ns := model.NamespaceFor(company)
	report = model.CompanyReport{Company: company, Namespace: ns}
	log := c.log.With(slog.String("company", company), slog.String("namespace", ns))

	defer func() {
		report.Duration = c.now().Sub(start)
		log.Info("Company finished",
			slog.Int("collected", report.Collected),
			slog.Int("embedded", report.Embedded),
			slog.Int("new", report.New),
			slog.Int("duplicate", report.Duplicate),
			slog.Int("stored", report.Stored),
			slog.Int("failed", report.Failed()),
			slog.Bool("aborted", report.Aborted),
		)
	}()

	articles, err := c.source.Collect(ctx, company)
	if err != nil {
		c.abort(log, &report, "acquire", err)
		return report
	}
	report.Collected = len(articles)
	if len(articles) == 0 {
		return report
	}

	if err := c.ping(ctx); err != nil {
		c.abort(log, &report, "index", err)
		report.Unknown = report.Collected
		return report
	}

	embedded := c.embedAll(ctx, log, &report, articles)
	if len(embedded) == 0 {
		return report
	}

	classified := c.dedup.Classify(ctx, ns, embedded)
	unavailable := 0
	for _, a := range classified {
		switch a.Decision {
		case model.DecisionNew:
			report.New++
		case model.DecisionDuplicate:
			report.Duplicate++
		case model.DecisionUnknown:
			report.Unknown++
			report.Warnings = append(report.Warnings, fmt.Sprintf("lookup of %s failed: %v", a.ID, a.Err))
			if errors.Is(a.Err, model.ErrIndexUnavailable) {
				unavailable++
			}
		}
	}
	if unavailable == len(classified) {
		c.abort(log, &report, "index", model.ErrIndexUnavailable)
		return report
	}
	if report.New == 0 {
		return report
	}

	storage := c.writer.Store(ctx, ns, classified)
	report.Stored = storage.StoredCount
	report.StoreFailed = len(storage.FailedIDs)
	report.FailedIDs = storage.FailedIDs
	for _, id := range storage.FailedIDs {
		report.Warnings = append(report.Warnings, fmt.Sprintf("storing %s failed", id))
	}

	c.notify(ctx, log, &report, BuildDigest(company, classified, storage, c.now()))

	return report
}

func (c *Coordinator) ping(ctx context.Context) error {
	return helper.Retry(ctx, c.config.LookupRetry, pipeline.Retryable, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, c.config.Timeouts.Query)
		defer cancel()
		return c.index.Ping(pingCtx)
	}, nil)
}

// embedAll embeds articles concurrently. Failed articles are counted and dropped, the order is kept.
func (c *Coordinator) embedAll(ctx context.Context, log *slog.Logger, report *model.CompanyReport, articles []model.Article) []model.EmbeddedArticle {
	embeddings := make([][]float32, len(articles))
	errs := make([]error, len(articles))

	var g errgroup.Group
	g.SetLimit(c.config.Dedup.Concurrency)
	for i, article := range articles {
		g.Go(func() error {
			errs[i] = helper.Retry(ctx, c.config.LookupRetry, pipeline.Retryable, func(ctx context.Context) error {
				embedCtx, cancel := context.WithTimeout(ctx, c.config.Timeouts.Embed)
				defer cancel()

				embedding, err := c.embedder.Embed(embedCtx, article.Text())
				if err != nil {
					return err
				}
				embeddings[i] = embedding
				return nil
			}, nil)
			return nil
		})
	}
	_ = g.Wait()

	embedded := []model.EmbeddedArticle{}
	for i, article := range articles {
		if errs[i] != nil {
			report.EmbedFailed++
			report.Warnings = append(report.Warnings, fmt.Sprintf("embedding %s failed: %v", article.ID, errs[i]))
			log.Warn("Embedding failed, skipping article", slog.String("article_id", article.ID), slog.String("error", errs[i].Error()))
			continue
		}
		embedded = append(embedded, model.EmbeddedArticle{Article: article, Embedding: embeddings[i]})
	}
	report.Embedded = len(embedded)

	return embedded
}

func (c *Coordinator) notify(ctx context.Context, log *slog.Logger, report *model.CompanyReport, digest model.Digest) {
	notifyCtx, cancel := context.WithTimeout(ctx, c.config.Timeouts.Notify)
	defer cancel()

	if err := c.notifier.Notify(notifyCtx, digest); err != nil {
		report.NotifyError = err.Error()
		log.Warn("Notification failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) abort(log *slog.Logger, report *model.CompanyReport, stage string, err error) {
	report.Aborted = true
	report.AbortReason = fmt.Sprintf("%s: %v", stage, err)
	log.Error("Company aborted", slog.String("stage", stage), slog.String("error", err.Error()))
}

func (c *Coordinator) unscheduled(ctx context.Context, company string, err error) *model.CompanyReport {
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = errors.New("company job did not run")
	}
	ns := model.NamespaceFor(company)
	report := &model.CompanyReport{Company: company, Namespace: ns}
	c.abort(c.log.With(slog.String("company", company), slog.String("namespace", ns)), report, "schedule", err)
	return report
}

// BuildDigest collects the NEW articles, highest relevance first.
// Articles whose write failed are included, the failure is visible in Storage.
func BuildDigest(company string, classified []model.ClassifiedArticle, storage model.StorageResult, generatedAt time.Time) model.Digest {
	articles := []model.Article{}
	for _, a := range classified {
		if a.Decision == model.DecisionNew {
			articles = append(articles, a.Article)
		}
	}
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].RelevanceScore > articles[j].RelevanceScore
	})

	return model.Digest{
		Company:     company,
		Namespace:   model.NamespaceFor(company),
		Articles:    articles,
		Storage:     storage,
		GeneratedAt: generatedAt.UTC(),
	}
}

type companyJob struct {
	coordinator *Coordinator
	company     string
	position    int
}

func (j *companyJob) Execute(ctx context.Context) worker.Result {
	return &companyResult{
		report:   j.coordinator.RunCompany(ctx, j.company),
		position: j.position,
	}
}

type companyResult struct {
	report   model.CompanyReport
	position int
}

func (r *companyResult) GetError() error {
	if r.report.Aborted {
		return errors.New(r.report.AbortReason)
	}
	return nil
}
