package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
)

// JSONSource serves candidates from a JSON document.
// The document is either an array of articles or an object with an "articles" array.
// Companies are matched by namespace, so "Acme Corp" and "acme  corp" are the same company.
type JSONSource struct {
	load      func() ([]byte, error)
	log       *slog.Logger
	now       func() time.Time
	once      sync.Once
	loadErr   error
	byCompany map[string][]model.Article
	companies []string
}

// NewJSONFileSource reads candidates from path on first use.
func NewJSONFileSource(path string, logger *slog.Logger) *JSONSource {
	return newJSONSource(func() ([]byte, error) {
		return os.ReadFile(path) // #nosec G304 -- path comes from the operator's configuration
	}, logger)
}

// NewJSONReaderSource reads candidates from r on first use.
func NewJSONReaderSource(r io.Reader, logger *slog.Logger) *JSONSource {
	return newJSONSource(func() ([]byte, error) {
		return io.ReadAll(r)
	}, logger)
}

func newJSONSource(load func() ([]byte, error), logger *slog.Logger) *JSONSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONSource{
		load: load,
		log:  logger.With("component", "ingest"),
		now:  time.Now,
	}
}

// Collect returns the candidates of company. Unknown companies have no candidates.
func (s *JSONSource) Collect(ctx context.Context, company string) ([]model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	articles := s.byCompany[model.NamespaceFor(company)]
	out := make([]model.Article, len(articles))
	copy(out, articles)
	return out, nil
}

// Companies returns the companies present in the document in first-seen spelling, sorted.
func (s *JSONSource) Companies() ([]string, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]string, len(s.companies))
	copy(out, s.companies)
	return out, nil
}

func (s *JSONSource) ensureLoaded() error {
	s.once.Do(func() {
		s.loadErr = s.parse()
	})
	return s.loadErr
}

func (s *JSONSource) parse() error {
	data, err := s.load()
	if err != nil {
		return helper.NewError("read candidates", err)
	}

	var articles []model.Article
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc struct {
			Articles []model.Article `json:"articles"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return helper.NewError("decode candidates", err)
		}
		articles = doc.Articles
	} else if err := json.Unmarshal(trimmed, &articles); err != nil {
		return helper.NewError("decode candidates", err)
	}

	ingestedAt := s.now()
	s.byCompany = map[string][]model.Article{}
	seen := map[string]bool{}
	for i := range articles {
		a := articles[i]
		if a.Company == "" {
			s.log.Warn("Skipping candidate without company", slog.Int("index", i), slog.String("title", a.Title))
			continue
		}
		if err := a.Prepare(ingestedAt); err != nil {
			s.log.Warn("Skipping candidate", slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}

		ns := model.NamespaceFor(a.Company)
		if !seen[ns] {
			seen[ns] = true
			s.companies = append(s.companies, a.Company)
		}
		s.byCompany[ns] = append(s.byCompany[ns], a)
	}
	sort.Strings(s.companies)

	s.log.Debug("Candidates loaded", slog.Int("articles", len(articles)), slog.Int("companies", len(s.companies)))
	return nil
}

// Static is an in-memory source keyed by company name.
type Static map[string][]model.Article

// Collect returns prepared copies of the articles stored for company.
func (s Static) Collect(ctx context.Context, company string) ([]model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	articles, ok := s[company]
	if !ok {
		return nil, fmt.Errorf("no candidates for company %q", company)
	}
	ingestedAt := time.Now()
	out := make([]model.Article, 0, len(articles))
	for _, a := range articles {
		if err := a.Prepare(ingestedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
