package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/siherrmann/newsdedup/helper"
)

// DedupConfig configures the embedder input and the duplicate decision.
type DedupConfig struct {
	Threshold   float64 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	TopK        int     `json:"top_k" yaml:"top_k" mapstructure:"top_k"`
	Dimension   int     `json:"dimension" yaml:"dimension" mapstructure:"dimension"`
	MaxChars    int     `json:"max_chars" yaml:"max_chars" mapstructure:"max_chars"`
	Concurrency int     `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"` // Fan-out within one company
}

// StorageConfig configures the storage writer.
type StorageConfig struct {
	BatchSize int                `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	Retry     helper.RetryConfig `json:"retry" yaml:"retry" mapstructure:"retry"`
}

// TimeoutConfig holds the timeout of every external call.
type TimeoutConfig struct {
	Embed  time.Duration `json:"embed" yaml:"embed" mapstructure:"embed"`
	Query  time.Duration `json:"query" yaml:"query" mapstructure:"query"`
	Write  time.Duration `json:"write" yaml:"write" mapstructure:"write"`
	Notify time.Duration `json:"notify" yaml:"notify" mapstructure:"notify"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider          string        `json:"provider" yaml:"provider" mapstructure:"provider"` // hugot or openai
	Model             string        `json:"model" yaml:"model" mapstructure:"model"`          // Empty selects the provider default
	ModelDir          string        `json:"model_dir" yaml:"model_dir" mapstructure:"model_dir"`
	OnnxFilePath      string        `json:"onnx_file_path" yaml:"onnx_file_path" mapstructure:"onnx_file_path"`
	APIKey            string        `json:"-" yaml:"-" mapstructure:"api_key"`
	BaseURL           string        `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst" mapstructure:"burst"`
	CacheTTL          time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// NotifierConfig selects where digests are delivered.
type NotifierConfig struct {
	Kind    string   `json:"kind" yaml:"kind" mapstructure:"kind"` // log or kafka
	Brokers []string `json:"brokers,omitempty" yaml:"brokers,omitempty" mapstructure:"brokers"`
	Topic   string   `json:"topic,omitempty" yaml:"topic,omitempty" mapstructure:"topic"`
}

// Config is the complete run configuration.
type Config struct {
	Companies          []string           `json:"companies" yaml:"companies" mapstructure:"companies"`
	CandidatesFile     string             `json:"candidates_file" yaml:"candidates_file" mapstructure:"candidates_file"`
	CompanyConcurrency int                `json:"company_concurrency" yaml:"company_concurrency" mapstructure:"company_concurrency"`
	Dedup              DedupConfig        `json:"dedup" yaml:"dedup" mapstructure:"dedup"`
	Storage            StorageConfig      `json:"storage" yaml:"storage" mapstructure:"storage"`
	LookupRetry        helper.RetryConfig `json:"lookup_retry" yaml:"lookup_retry" mapstructure:"lookup_retry"`
	Timeouts           TimeoutConfig      `json:"timeouts" yaml:"timeouts" mapstructure:"timeouts"`
	Embedder           EmbedderConfig     `json:"embedder" yaml:"embedder" mapstructure:"embedder"`
	Notifier           NotifierConfig     `json:"notifier" yaml:"notifier" mapstructure:"notifier"`
}

// DefaultDedupConfig returns the default duplicate detection settings
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Threshold:   0.85,
		TopK:        1,
		Dimension:   384, // all-MiniLM-L6-v2
		MaxChars:    300,
		Concurrency: 8,
	}
}

// DefaultConfig returns a complete configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		CompanyConcurrency: 4,
		Dedup:              DefaultDedupConfig(),
		Storage: StorageConfig{
			BatchSize: 100,
			Retry:     helper.DefaultRetryConfig(),
		},
		LookupRetry: helper.DefaultRetryConfig(),
		Timeouts: TimeoutConfig{
			Embed:  30 * time.Second,
			Query:  10 * time.Second,
			Write:  30 * time.Second,
			Notify: 10 * time.Second,
		},
		Embedder: EmbedderConfig{
			Provider:          "hugot",
			ModelDir:          helper.DefaultModelDir,
			OnnxFilePath:      "onnx/model.onnx",
			RequestsPerSecond: 10,
			Burst:             5,
			CacheTTL:          time.Hour,
		},
		Notifier: NotifierConfig{
			Kind:  "log",
			Topic: "news-digests",
		},
	}
}

// Validate checks the duplicate detection settings.
func (c DedupConfig) Validate() error {
	var errs []error
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold must be in (0, 1], got %v", c.Threshold))
	}
	if c.TopK < 1 {
		errs = append(errs, fmt.Errorf("top_k must be at least 1, got %d", c.TopK))
	}
	if c.Dimension < 1 {
		errs = append(errs, fmt.Errorf("dimension must be positive, got %d", c.Dimension))
	}
	if c.MaxChars < 1 {
		errs = append(errs, fmt.Errorf("max_chars must be positive, got %d", c.MaxChars))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if len(errs) > 0 {
		return helper.NewError("validate dedup config", errors.Join(errs...))
	}
	return nil
}

// Validate checks the complete configuration.
func (c Config) Validate() error {
	var errs []error
	if err := c.Dedup.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.CompanyConcurrency < 1 {
		errs = append(errs, fmt.Errorf("company_concurrency must be at least 1, got %d", c.CompanyConcurrency))
	}
	if c.Storage.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("storage.batch_size must be at least 1, got %d", c.Storage.BatchSize))
	}
	if c.Storage.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("storage.retry.max_attempts must be at least 1, got %d", c.Storage.Retry.MaxAttempts))
	}
	if c.LookupRetry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("lookup_retry.max_attempts must be at least 1, got %d", c.LookupRetry.MaxAttempts))
	}
	if c.Timeouts.Embed <= 0 || c.Timeouts.Query <= 0 || c.Timeouts.Write <= 0 || c.Timeouts.Notify <= 0 {
		errs = append(errs, fmt.Errorf("all timeouts must be positive"))
	}
	switch c.Embedder.Provider {
	case "hugot", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider))
	}
	switch c.Notifier.Kind {
	case "log":
	case "kafka":
		if len(c.Notifier.Brokers) == 0 || c.Notifier.Topic == "" {
			errs = append(errs, fmt.Errorf("kafka notifier needs brokers and a topic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier kind %q", c.Notifier.Kind))
	}
	if len(errs) > 0 {
		return helper.NewError("validate config", errors.Join(errs...))
	}
	return nil
}
