package observance

import (
	"context"
	"net/http"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Fetcher performs a single HTTP exchange and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetchRequest describes one outbound request. Method defaults to GET.
type FetchRequest struct {
	URL     string
	Method  string
	Body    []byte
	Headers http.Header
}

// FetchResponse carries the fetched payload.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Source yields observances for a calendar date. Implementations decide
// whether they key on day/month or on the absolute date.
type Source interface {
	Name() string
	ForDate(ctx context.Context, date time.Time) []Observance
}

// CustomStore persists user-curated observances.
type CustomStore interface {
	List(ctx context.Context) ([]Observance, error)
	Upsert(ctx context.Context, o Observance) error
	Remove(ctx context.Context, date DayMonth, name string) (int, error)
}
