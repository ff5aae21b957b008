// Package transport holds the single-attempt request issuers and the error
// sets that tell the backoff loop which failures are transient.
package transport

import (
	"context"

	"github.com/vietddude/scrapeback/internal/core/domain"
)

// Transport performs exactly one attempt and owns the set of errors it
// considers transient.
type Transport interface {
	Name() string
	Send(ctx context.Context, spec domain.RequestSpec) (*domain.Response, error)
	Ignorable() ErrorSet
}
