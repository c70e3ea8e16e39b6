// Package processor defines the translation capability the pipeline invokes
// and the error taxonomy callers use to decide on retries.
package processor

import (
	"context"
	"errors"
	"fmt"
)

// Processor translates text between a source and a target language. It must
// be safe for concurrent use by multiple workers.
type Processor interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

var (
	// ErrTransient marks failures worth retrying: timeouts, connection
	// resets, temporarily unavailable backends.
	ErrTransient = errors.New("transient processor failure")

	// ErrPermanent marks failures that will not succeed on retry:
	// authorization failures, malformed input, unsupported language pairs.
	ErrPermanent = errors.New("permanent processor failure")
)

// TransientError wraps err so that errors.Is(err, ErrTransient) holds.
func TransientError(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// PermanentError wraps err so that errors.Is(err, ErrPermanent) holds.
func PermanentError(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// UnsupportedPairError reports a language pair the processor has no
// resources for. It is permanent.
func UnsupportedPairError(sourceLang, targetLang string) error {
	return PermanentError(fmt.Errorf("unsupported language pair %q -> %q", sourceLang, targetLang))
}

// IsTransient reports whether err should be treated as retryable. Unknown
// error classes default to transient so that flaky backends get the benefit
// of the retry budget; explicitly permanent errors never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return true
}
