package pipeline

import (
	"context"
	"errors"

	"github.com/siherrmann/newsdedup/model"
)

// Retryable reports whether a failed external call may succeed when repeated.
// Timeouts count as transient.
func Retryable(err error) bool {
	return errors.Is(err, model.ErrIndexUnavailable) ||
		errors.Is(err, model.ErrEmbedderUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
