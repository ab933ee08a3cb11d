// Package clients holds the typed HTTP clients for the local model
// services: embeddings, reranking, chat/vision completion, plus the
// cached health probe used by the health endpoint. All clients are
// safe for concurrent use.
package clients

import (
	"errors"
	"fmt"
)

// ClientError is the single error kind surfaced by all model
// clients. StatusCode is zero for transport failures.
type ClientError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}
