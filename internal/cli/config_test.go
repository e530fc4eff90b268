package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/siherrmann/newsdedup/model"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NEWSDEDUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults are valid", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		cfg, err := loadConfig(newTestViper())
		require.NoError(t, err)

		d := model.DefaultConfig()
		assert.Equal(t, d.Dedup, cfg.Dedup)
		assert.Equal(t, d.Storage, cfg.Storage)
		assert.Equal(t, d.Timeouts, cfg.Timeouts)
		assert.Equal(t, 0.85, cfg.Dedup.Threshold)
		assert.Equal(t, 100, cfg.Storage.BatchSize)
	})

	t.Run("Environment overrides nested keys", func(t *testing.T) {
		t.Setenv("NEWSDEDUP_DEDUP_THRESHOLD", "0.9")
		t.Setenv("NEWSDEDUP_TIMEOUTS_QUERY", "3s")
		t.Setenv("NEWSDEDUP_STORAGE_BATCH_SIZE", "25")

		cfg, err := loadConfig(newTestViper())
		require.NoError(t, err)
		assert.Equal(t, 0.9, cfg.Dedup.Threshold)
		assert.Equal(t, 3*time.Second, cfg.Timeouts.Query)
		assert.Equal(t, 25, cfg.Storage.BatchSize)
	})

	t.Run("Comma separated companies", func(t *testing.T) {
		t.Setenv("NEWSDEDUP_COMPANIES", "Acme Corp,Beta Inc")

		cfg, err := loadConfig(newTestViper())
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme Corp", "Beta Inc"}, cfg.Companies)
	})

	t.Run("OpenAI key falls back to the common variable", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		v := newTestViper()
		v.Set("embedder.provider", "openai")

		cfg, err := loadConfig(v)
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
	})

	t.Run("Invalid threshold fails", func(t *testing.T) {
		v := newTestViper()
		v.Set("dedup.threshold", 1.5)

		_, err := loadConfig(v)
		assert.Error(t, err)
	})

	t.Run("Kafka notifier without brokers fails", func(t *testing.T) {
		v := newTestViper()
		v.Set("notifier.kind", "kafka")

		_, err := loadConfig(v)
		assert.Error(t, err)
	})
}

func TestPrintReport(t *testing.T) {
	report := model.RunReport{Companies: []model.CompanyReport{
		{Company: "Acme Corp", Collected: 2, Embedded: 2, New: 1, Duplicate: 1, Stored: 1},
		{Company: "Beta Inc", Collected: 3, Unknown: 3, Aborted: true, AbortReason: "index unavailable", Warnings: []string{"similarity index unreachable"}},
	}}

	t.Run("Table with totals and warnings", func(t *testing.T) {
		var out bytes.Buffer
		printReport(&out, report)

		text := out.String()
		assert.Contains(t, text, "COMPANY")
		assert.Contains(t, text, "Acme Corp")
		assert.Contains(t, text, "aborted: index unavailable")
		assert.Contains(t, text, "total")
		assert.Contains(t, text, "warning [Beta Inc]: similarity index unreachable")
	})

	t.Run("Aborted companies turn into an error", func(t *testing.T) {
		err := reportError(report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2")
	})

	t.Run("No error without aborted companies", func(t *testing.T) {
		assert.NoError(t, reportError(model.RunReport{Companies: report.Companies[:1]}))
	})
}
