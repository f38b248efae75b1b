package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/specialdays/internal/observance"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop stands in for the browser when headless rendering is switched off.
// Sources configured for rendering then fall back to whatever the primary
// extraction path returns.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, _ observance.FetchRequest) (observance.FetchResponse, error) {
	return observance.FetchResponse{}, ErrDisabled
}
