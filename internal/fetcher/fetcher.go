package fetcher

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFetchExhausted is returned when every attempt timed out.
	ErrFetchExhausted = errors.New("fetcher: all attempts timed out")
	// ErrNonRetriable wraps transport failures that are not timeouts.
	ErrNonRetriable = errors.New("fetcher: non-retriable transport failure")
	// ErrHTTPStatus is wrapped by StatusError.
	ErrHTTPStatus = errors.New("fetcher: unexpected http status")
)

// RawResponse is the undecoded body of a successful markets request.
type RawResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// MarketFetcher retrieves one market snapshot from the upstream API.
type MarketFetcher interface {
	Fetch(ctx context.Context) (*RawResponse, error)
}
