// Package scraper fetches and parses the visa slot availability page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"visaslot-notifier/pkg/notifier"
)

const (
	maxAttempts       = 3
	blockedMultiplier = 3
	rateLimitFallback = 60 * time.Second
	requestTimeout    = 30 * time.Second

	// maxRateLimitWaits bounds consecutive server-directed waits within one
	// Fetch; a server that answers 429 forever must not pin the cycle.
	maxRateLimitWaits = 3

	// Responses smaller than this are error pages or interstitials, not the
	// real availability table.
	minBodyBytes = 512

	maxBodyBytes = 10 << 20
)

// baseRetryDelay is scaled by the attempt number between retries. Variable so
// tests can shrink it.
var baseRetryDelay = 5 * time.Second

// userAgents is a small fixed pool; each session picks one so repeated
// sessions don't present an identical fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
}

// httpBlockedError indicates a 403 Forbidden response (active blocking, not
// transient load).
type httpBlockedError struct {
	url string
}

func (e *httpBlockedError) Error() string {
	return fmt.Sprintf("HTTP 403 Forbidden: %s", e.url)
}

// rateLimitedError indicates a 429 with the wait the server asked for.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("HTTP 429 Too Many Requests, retry after %s", e.retryAfter)
}

// Scraper fetches the availability page for one monitoring session.
type Scraper struct {
	url       string
	logger    *slog.Logger
	client    *http.Client
	userAgent string
}

// New creates a scraper for the given page URL. Call Open before Fetch.
func New(url string, logger *slog.Logger) *Scraper {
	return &Scraper{
		url:    url,
		logger: logger,
	}
}

// Open establishes the session: a client with a fixed per-request timeout and
// keep-alives disabled so the connection is closed after each request, plus a
// User-Agent drawn from the pool for the lifetime of the session.
func (s *Scraper) Open() {
	s.client = &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
	s.userAgent = userAgents[rand.IntN(len(userAgents))]
	s.logger.Debug("Scraper session opened", "url", s.url)
}

// Close releases the session.
func (s *Scraper) Close() {
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}
	s.logger.Debug("Scraper session closed", "url", s.url)
}

// Fetch performs one fetch-and-parse cycle with internal retries. Transient
// failures (timeouts, connection errors, unexpected statuses, truncated
// bodies) are retried up to maxAttempts with increasing delay. A 429 waits
// for the server-directed duration without consuming an attempt. A 403 backs
// off much longer and, if every attempt is blocked, yields an empty result
// rather than an error: being blocked is "no data this cycle", not fatal.
func (s *Scraper) Fetch(ctx context.Context) ([]notifier.Slot, error) {
	if s.client == nil {
		return nil, errors.New("scraper session not open")
	}

	attempt := 1
	rateLimitWaits := 0
	for {
		s.logger.Info("Fetching visa slots", "url", s.url, "attempt", attempt, "max_attempts", maxAttempts)

		slots, err := s.fetchOnce(ctx)
		if err == nil {
			s.logger.Info("Fetched visa slots", "count", len(slots))
			return slots, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var rateLimited *rateLimitedError
		if errors.As(err, &rateLimited) {
			// Server-directed wait; does not count against the retry budget,
			// but only so many in a row before giving up the cycle.
			rateLimitWaits++
			if rateLimitWaits > maxRateLimitWaits {
				s.logger.Error("Rate limited on every retry, returning empty result", "url", s.url)
				return nil, nil
			}
			s.logger.Warn("Rate limited by server", "retry_after", rateLimited.retryAfter)
			if sleepErr := sleep(ctx, rateLimited.retryAfter); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		rateLimitWaits = 0

		var blocked *httpBlockedError
		if errors.As(err, &blocked) {
			if attempt >= maxAttempts {
				s.logger.Error("Blocked on every attempt, returning empty result", "url", s.url)
				return nil, nil
			}
			delay := baseRetryDelay * time.Duration((attempt+2)*blockedMultiplier)
			s.logger.Warn("Blocked (403), backing off", "attempt", attempt, "delay", delay)
			if sleepErr := sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
			attempt++
			continue
		}

		if attempt >= maxAttempts {
			return nil, fmt.Errorf("fetch after %d attempts: %w", maxAttempts, err)
		}
		delay := baseRetryDelay * time.Duration(attempt)
		s.logger.Warn("Fetch failed, will retry", "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
		attempt++
	}
}

func (s *Scraper) fetchOnce(ctx context.Context) ([]notifier.Slot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")

	startTime := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Info("HTTP request completed",
		"url", s.url,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, &httpBlockedError{url: s.url}
	case http.StatusTooManyRequests:
		return nil, &rateLimitedError{retryAfter: retryAfterDelay(resp)}
	default:
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) < minBodyBytes {
		return nil, fmt.Errorf("body too short to be real content: %d bytes", len(body))
	}

	slots, err := parseSlots(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	if len(slots) == 0 {
		// A page with no tabular rows is a valid (if useless) fetch outcome.
		s.logger.Warn("No slot rows found on page", "url", s.url, "body_bytes", len(body))
	}

	return slots, nil
}

// retryAfterDelay extracts the server-supplied wait from a 429 response,
// falling back to a fixed delay.
func retryAfterDelay(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return rateLimitFallback
}

// parseSlots extracts slot rows from every table on the page. The first row
// of each table is a header and is skipped; rows with fewer than 5 cells are
// skipped silently. Tables are concatenated in document order.
func parseSlots(body io.Reader) ([]notifier.Slot, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	var slots []notifier.Slot
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(i int, row *goquery.Selection) {
			if i == 0 {
				return // header row
			}
			cells := row.Find("td")
			if cells.Length() < 5 {
				return
			}
			cell := func(j int) string {
				return strings.TrimSpace(cells.Eq(j).Text())
			}
			slots = append(slots, notifier.Slot{
				Location:       cell(0),
				VisaType:       cell(1),
				LastUpdated:    cell(2),
				EarliestDate:   cell(3),
				SlotsAvailable: cell(4),
			})
		})
	})

	return slots, nil
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
