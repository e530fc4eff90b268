package cli

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/siherrmann/newsdedup/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
	Long: `Inspect the effective configuration.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (NEWSDEDUP_*, OPENAI_API_KEY)
3. Config file (./newsdedup.yaml or ~/.newsdedup/config.yaml)
4. Defaults

Database settings are read from DB_* variables or a .env file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

// setDefaults registers every key so that environment variables are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := model.DefaultConfig()

	v.SetDefault("companies", []string{})
	v.SetDefault("candidates_file", d.CandidatesFile)
	v.SetDefault("company_concurrency", d.CompanyConcurrency)

	v.SetDefault("dedup.threshold", d.Dedup.Threshold)
	v.SetDefault("dedup.top_k", d.Dedup.TopK)
	v.SetDefault("dedup.dimension", d.Dedup.Dimension)
	v.SetDefault("dedup.max_chars", d.Dedup.MaxChars)
	v.SetDefault("dedup.concurrency", d.Dedup.Concurrency)

	v.SetDefault("storage.batch_size", d.Storage.BatchSize)
	v.SetDefault("storage.retry.max_attempts", d.Storage.Retry.MaxAttempts)
	v.SetDefault("storage.retry.initial_interval", d.Storage.Retry.InitialInterval)
	v.SetDefault("storage.retry.max_interval", d.Storage.Retry.MaxInterval)

	v.SetDefault("lookup_retry.max_attempts", d.LookupRetry.MaxAttempts)
	v.SetDefault("lookup_retry.initial_interval", d.LookupRetry.InitialInterval)
	v.SetDefault("lookup_retry.max_interval", d.LookupRetry.MaxInterval)

	v.SetDefault("timeouts.embed", d.Timeouts.Embed)
	v.SetDefault("timeouts.query", d.Timeouts.Query)
	v.SetDefault("timeouts.write", d.Timeouts.Write)
	v.SetDefault("timeouts.notify", d.Timeouts.Notify)

	v.SetDefault("embedder.provider", d.Embedder.Provider)
	v.SetDefault("embedder.model", d.Embedder.Model)
	v.SetDefault("embedder.model_dir", d.Embedder.ModelDir)
	v.SetDefault("embedder.onnx_file_path", d.Embedder.OnnxFilePath)
	v.SetDefault("embedder.api_key", d.Embedder.APIKey)
	v.SetDefault("embedder.base_url", d.Embedder.BaseURL)
	v.SetDefault("embedder.requests_per_second", d.Embedder.RequestsPerSecond)
	v.SetDefault("embedder.burst", d.Embedder.Burst)
	v.SetDefault("embedder.cache_ttl", d.Embedder.CacheTTL)

	v.SetDefault("notifier.kind", d.Notifier.Kind)
	v.SetDefault("notifier.brokers", []string{})
	v.SetDefault("notifier.topic", d.Notifier.Topic)
}

// loadConfig decodes the merged viper state into a validated configuration.
func loadConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.DefaultConfig()
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return cfg, fmt.Errorf("error decoding config: %w", err)
	}

	if cfg.Embedder.APIKey == "" {
		cfg.Embedder.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
