package helper

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds an exponential backoff retry loop.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval" mapstructure:"max_interval"`
}

// DefaultRetryConfig returns three attempts starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Retry runs op until it succeeds, returns a non retryable error or MaxAttempts is reached.
// A nil retryable func treats every error as retryable.
// notify is called before every wait and may be nil.
func Retry(ctx context.Context, config RetryConfig, retryable func(error) bool, op func(ctx context.Context) error, notify func(err error, wait time.Duration)) error {
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if config.InitialInterval > 0 {
		b.InitialInterval = config.InitialInterval
	}
	if config.MaxInterval > 0 {
		b.MaxInterval = config.MaxInterval
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, notify)
}
