package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
	"golang.org/x/sync/errgroup"
)

// similarityEpsilon absorbs float32 rounding so identical vectors still reach a threshold of 1.0.
// It is not applied to thresholds below 1.
const similarityEpsilon = 1e-6

// Deduplicator classifies candidates against the stored history of their namespace
// and against each other.
type Deduplicator struct {
	index        Index
	config       model.DedupConfig
	retry        helper.RetryConfig
	queryTimeout time.Duration
	log          *slog.Logger
}

// NewDeduplicator validates config and creates a deduplicator reading from index.
func NewDeduplicator(index Index, config model.DedupConfig, retry helper.RetryConfig, queryTimeout time.Duration, logger *slog.Logger) (*Deduplicator, error) {
	if index == nil {
		return nil, helper.NewError("deduplicator validation", errNilIndex)
	}
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("deduplicator validation", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Deduplicator{
		index:        index,
		config:       config,
		retry:        retry,
		queryTimeout: queryTimeout,
		log:          logger.With("component", "deduplicator"),
	}, nil
}

// IsDuplicate is the decision rule shared by the history and the within-batch pass.
func (d *Deduplicator) IsDuplicate(similarity float64) bool {
	if d.config.Threshold >= 1 {
		return similarity >= 1-similarityEpsilon
	}
	return similarity >= d.config.Threshold
}

// Classify decides NEW, DUPLICATE or UNKNOWN for every candidate.
// Lookups run concurrently. After all of them returned, NEW candidates are compared
// with each other and only the highest ranked article of a similar group stays NEW.
// The result has the same order as candidates.
func (d *Deduplicator) Classify(ctx context.Context, namespace string, candidates []model.EmbeddedArticle) []model.ClassifiedArticle {
	results := make([]model.ClassifiedArticle, len(candidates))

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)
	for i, candidate := range candidates {
		g.Go(func() error {
			results[i] = d.lookup(ctx, namespace, candidate)
			return nil
		})
	}
	// Barrier before the within-batch pass
	_ = g.Wait()

	d.collapseBatch(namespace, results)

	return results
}

func (d *Deduplicator) lookup(ctx context.Context, namespace string, candidate model.EmbeddedArticle) model.ClassifiedArticle {
	classified := model.ClassifiedArticle{EmbeddedArticle: candidate}

	var neighbors []model.Neighbor
	err := helper.Retry(ctx, d.retry, Retryable, func(ctx context.Context) error {
		queryCtx, cancel := context.WithTimeout(ctx, d.queryTimeout)
		defer cancel()

		found, err := d.index.QueryNearest(queryCtx, namespace, candidate.Embedding, d.config.TopK)
		if err != nil {
			return err
		}
		neighbors = found
		return nil
	}, func(err error, wait time.Duration) {
		d.log.Debug("Retrying lookup", slog.String("article_id", candidate.ID), slog.Duration("wait", wait), slog.String("error", err.Error()))
	})
	if err != nil {
		d.log.Warn("Lookup failed, skipping article", slog.String("namespace", namespace), slog.String("article_id", candidate.ID), slog.String("error", err.Error()))
		classified.Decision = model.DecisionUnknown
		classified.Err = helper.NewError("lookup", err)
		return classified
	}

	if len(neighbors) == 0 {
		classified.Decision = model.DecisionNew
		return classified
	}

	best := neighbors[0]
	for _, n := range neighbors[1:] {
		if n.Similarity > best.Similarity {
			best = n
		}
	}

	classified.Similarity = best.Similarity
	if d.IsDuplicate(best.Similarity) {
		classified.Decision = model.DecisionDuplicate
		classified.MatchedID = best.ArticleID
		return classified
	}

	classified.Decision = model.DecisionNew
	return classified
}

// collapseBatch demotes NEW candidates that are similar to a higher ranked NEW candidate of the same batch.
// Ranking is relevance descending, then earlier publish time, then id.
func (d *Deduplicator) collapseBatch(namespace string, results []model.ClassifiedArticle) {
	order := []int{}
	for i := range results {
		if results[i].Decision == model.DecisionNew {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := results[order[a]], results[order[b]]
		if x.RelevanceScore != y.RelevanceScore {
			return x.RelevanceScore > y.RelevanceScore
		}
		if !x.PublishedAt.Equal(y.PublishedAt) {
			return x.PublishedAt.Before(y.PublishedAt)
		}
		return x.ID < y.ID
	})

	kept := []int{}
	for _, i := range order {
		for _, k := range kept {
			similarity := helper.CosineSimilarity(results[i].Embedding, results[k].Embedding)
			if results[i].ID == results[k].ID || d.IsDuplicate(similarity) {
				results[i].Decision = model.DecisionDuplicate
				results[i].MatchedID = results[k].ID
				results[i].Similarity = similarity
				results[i].WithinBatch = true
				d.log.Debug("Within-batch duplicate", slog.String("namespace", namespace), slog.String("article_id", results[i].ID), slog.String("kept_id", results[k].ID), slog.Float64("similarity", similarity))
				break
			}
		}
		if results[i].Decision == model.DecisionNew {
			kept = append(kept, i)
		}
	}
}
