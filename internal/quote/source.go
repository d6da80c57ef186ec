package quote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Options parameterise the endpoint-ranked quote source.
type Options struct {
	Endpoints []string
	Timeout   time.Duration
	UserAgent string
	// Now overrides the clock used to stamp quotes.
	Now func() time.Time
}

// Source fetches USD/BRL quotes, falling back across ranked endpoints.
type Source struct {
	endpoints []string
	client    *http.Client
	userAgent string
	now       func() time.Time
	logger    zerolog.Logger

	mu     sync.Mutex
	cursor int
}

// NewSource constructs a quote source; it panics when no endpoint is configured.
func NewSource(opts Options, logger zerolog.Logger) *Source {
	if len(opts.Endpoints) == 0 {
		panic("quote source requires at least one endpoint")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "dollarnow/1.0"
	}

	endpoints := make([]string, len(opts.Endpoints))
	copy(endpoints, opts.Endpoints)

	return &Source{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		userAgent: ua,
		now:       now,
		logger:    logger.With().Str("component", "quote_source").Logger(),
	}
}

// Endpoints returns the ranked endpoint list.
func (s *Source) Endpoints() []string {
	out := make([]string, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// Cursor returns the index of the endpoint the next fetch will use.
func (s *Source) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// FetchQuote queries the endpoint under the cursor once.
//
// On failure the cursor advances and the returned *FetchError is Retryable
// while untried endpoints remain; after the last endpoint fails the cursor
// wraps to 0. Retry timing belongs to the caller.
func (s *Source) FetchQuote(ctx context.Context) (Quote, error) {
	s.mu.Lock()
	idx := s.cursor
	s.mu.Unlock()

	endpoint := s.endpoints[idx]
	start := time.Now()

	q, shapeName, err := s.fetch(ctx, endpoint)
	if err != nil {
		s.mu.Lock()
		retryable := idx < len(s.endpoints)-1
		if retryable {
			s.cursor = idx + 1
		} else {
			s.cursor = 0
		}
		s.mu.Unlock()

		s.logger.Warn().Err(err).
			Str("endpoint", endpoint).
			Bool("retryable", retryable).
			Dur("duration", time.Since(start)).
			Msg("quote fetch failed")
		return Quote{}, &FetchError{Endpoint: endpoint, Err: err, Retryable: retryable}
	}

	s.mu.Lock()
	s.cursor = 0
	s.mu.Unlock()

	s.logger.Debug().
		Str("endpoint", endpoint).
		Str("shape", shapeName).
		Str("value", q.Value.String()).
		Dur("duration", time.Since(start)).
		Msg("quote fetched")
	return q, nil
}

func (s *Source) fetch(ctx context.Context, endpoint string) (Quote, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Quote{}, "", fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Quote{}, "", parseHTTPError(resp.StatusCode, body)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return Quote{}, "", errors.New("empty response body")
	}

	r, shapeName, err := normalize(body)
	if err != nil {
		return Quote{}, "", err
	}

	return Quote{
		Value:     r.value,
		Timestamp: s.now(),
		ChangePct: r.change,
	}, shapeName, nil
}

func parseHTTPError(status int, payload []byte) error {
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200]
	}
	if text != "" {
		return fmt.Errorf("http status %d: %s", status, text)
	}
	return fmt.Errorf("http status %d", status)
}

var _ Fetcher = (*Source)(nil)
