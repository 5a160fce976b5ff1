package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	marketsPath      = "/coins/markets"
	defaultBaseURL   = "https://api.coingecko.com/api/v3"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/102.0.5005.61 Safari/537.36"
)

// MarketsOptions parameterise the CoinGecko markets fetcher.
type MarketsOptions struct {
	BaseURL     string
	VsCurrency  string
	Order       string
	PerPage     int
	Page        int
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	// Backoff is slept between timed out attempts. Zero retries immediately.
	Backoff time.Duration
	// MinInterval spaces consecutive requests from this fetcher, including
	// retries and later runs. Zero disables the limiter.
	MinInterval time.Duration
	Transport   http.RoundTripper
}

// Markets fetches the /coins/markets listing with a bounded retry on timeouts.
type Markets struct {
	opts     MarketsOptions
	logger   zerolog.Logger
	client   *http.Client
	limiter  *rate.Limiter
	endpoint string
}

// NewMarkets constructs a markets fetcher.
func NewMarkets(opts MarketsOptions, logger zerolog.Logger) *Markets {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	m := &Markets{
		opts:     opts,
		logger:   logger.With().Str("component", "markets_fetcher").Logger(),
		client:   &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		endpoint: buildEndpoint(opts),
	}
	if opts.MinInterval > 0 {
		m.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return m
}

func buildEndpoint(opts MarketsOptions) string {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	query := url.Values{}
	if opts.VsCurrency != "" {
		query.Set("vs_currency", opts.VsCurrency)
	}
	if opts.Order != "" {
		query.Set("order", opts.Order)
	}
	if opts.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}

	endpoint := baseURL + marketsPath
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return endpoint
}

// Endpoint returns the fully qualified request URL.
func (m *Markets) Endpoint() string {
	return m.endpoint
}

// Fetch issues the GET request. Timeouts consume an attempt and are retried;
// any other transport failure or a non-2xx status ends the fetch at once.
func (m *Markets) Fetch(ctx context.Context) (*RawResponse, error) {
	total := m.opts.MaxAttempts
	for attempt := 1; attempt <= total; attempt++ {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		m.logger.Debug().Int("attempt", attempt).Int("total", total).Str("target", m.endpoint).Msg("sending request")

		res, err := m.do(ctx)
		if err == nil {
			return m.checkStatus(res)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !isTimeout(err) {
			m.logger.Error().Err(err).Str("target", m.endpoint).Msg("request failed")
			return nil, fmt.Errorf("%w: %w", ErrNonRetriable, err)
		}

		m.logger.Warn().Err(err).Int("attempt", attempt).Int("total", total).Msg("request timed out")
		if attempt < total {
			if err := m.wait(ctx); err != nil {
				return nil, err
			}
		}
	}

	m.logger.Error().Int("attempts", total).Str("target", m.endpoint).Msg("all attempts timed out")
	return nil, fmt.Errorf("%w after %d attempts on %s", ErrFetchExhausted, total, m.endpoint)
}

func (m *Markets) do(ctx context.Context) (*RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", m.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &RawResponse{
		URL:        m.endpoint,
		StatusCode: resp.StatusCode,
		Body:       body,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (m *Markets) checkStatus(res *RawResponse) (*RawResponse, error) {
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		statusErr := parseHTTPError(res.StatusCode, res.Body)
		m.logger.Error().Int("status", res.StatusCode).Err(statusErr).Msg("upstream rejected request")
		return nil, statusErr
	}
	m.logger.Debug().Int("status", res.StatusCode).Int("bytes", len(res.Body)).Msg("request granted")
	return res, nil
}

func (m *Markets) wait(ctx context.Context) error {
	if m.opts.Backoff <= 0 {
		return nil
	}
	timer := time.NewTimer(m.opts.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// StatusError reports a non-2xx answer from the markets API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("coingecko api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("coingecko api error (%d): %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrHTTPStatus
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return &StatusError{StatusCode: status, Message: apiErr.Status.ErrorMessage}
		}
		if apiErr.Error != "" {
			return &StatusError{StatusCode: status, Message: apiErr.Error}
		}
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return &StatusError{StatusCode: status, Message: msg}
}

var _ MarketFetcher = (*Markets)(nil)
