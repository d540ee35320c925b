package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// Window bounds one fetch query. Since is inclusive; adapters translate it
// into their source-specific query parameter.
type Window struct {
	Since time.Time
}

// Adapter is implemented once per external source. Fetch returns the raw,
// source-shaped records for the window, or a FetchError. Ordinary network and
// HTTP failures are returned, never panicked, so the caller can isolate them
// per source. Zero records with a nil error is a valid, successful result.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, w Window) ([]models.RawRecord, error)
}

// FetchError marks a whole-cycle failure for one source: unreachable
// endpoint, non-2xx status or a malformed payload.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
