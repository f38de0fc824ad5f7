package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means no extraction credential is configured. A scan
	// cannot run at all without it.
	ErrConfiguration = errors.New("extraction API key is not configured")

	// ErrExtractionParse means no JSON object could be recovered from the
	// model's reply.
	ErrExtractionParse = errors.New("could not parse extraction response")
)

// ExtractionAPIError is a non-success reply from the completion endpoint.
type ExtractionAPIError struct {
	StatusCode int
	Body       string
}

func (e *ExtractionAPIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("extraction API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("extraction API returned status %d: %s", e.StatusCode, e.Body)
}
