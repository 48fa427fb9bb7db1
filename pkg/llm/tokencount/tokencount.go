// Package tokencount estimates token counts for providers whose API does
// not return exact usage ahead of a call (C5's EstimateCost capability
// needs an input-token count before the request is sent). It wraps
// tiktoken-go's cl100k_base encoding, which is close enough across modern
// chat models to serve as a pre-flight estimate; providers still prefer
// their own returned usage once a call actually completes.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	apperrors "github.com/binsight/core/internal/errors"
)

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	once.Do(func() {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, err
}

// Count returns the estimated token count of text. A failure to load the
// encoding falls back to a conservative chars/4 heuristic rather than
// failing the whole estimate — EstimateCost is advisory, not billed.
func Count(text string) int {
	e, loadErr := encoding()
	if loadErr != nil {
		return len(text) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// CountMessages sums the estimated token count of system and user prompt
// text, the shape every provider's translate/explain/summary request takes.
func CountMessages(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += Count(p)
	}
	return total
}

// MustEncoding returns the shared encoding or an AppError if tiktoken's
// bundled ranks could not be loaded, used by code paths that cannot
// silently degrade to the heuristic (e.g. a pre-flight budget gate).
func MustEncoding() (*tiktoken.Tiktoken, error) {
	e, loadErr := encoding()
	if loadErr != nil {
		return nil, apperrors.Wrap(loadErr, apperrors.ErrorTypeInternal, "load tiktoken cl100k_base encoding")
	}
	return e, nil
}
