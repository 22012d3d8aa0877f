package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	fieldReportDate = "fecha_resolucion"

	defaultPageSize = 1000
)

// RawRecord is one row as returned by the source API, untouched. It only
// lives between the client and the normalizer.
type RawRecord map[string]any

// RetryPolicy bounds how the client retries transient page failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Client pages through a Socrata JSON resource endpoint using $limit/$offset.
type Client struct {
	baseURL  string
	http     *http.Client
	pageSize int
	retry    RetryPolicy
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, pageSize int, retry RetryPolicy, rps float64, logger *zap.Logger) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		pageSize: pageSize,
		retry:    retry,
		limiter:  limiter,
		logger:   logger,
	}
}

// Pages yields raw records lazily, one page at a time. The sequence is
// single-pass; a yielded error terminates it and is one of the run-aborting
// kinds (TransientSourceError, SourceContractError) or a context error.
func (c *Client) Pages(ctx context.Context, since *civil.Date) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		offset := 0
		for {
			page, err := c.fetchPage(ctx, since, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			c.logger.Debug("fetched page", zap.Int("offset", offset), zap.Int("records", len(page)))
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < c.pageSize {
				return
			}
			offset += c.pageSize
		}
	}
}

// fetchPage applies the retry policy around one page request. Contract errors
// pass through untouched; anything transient is retried with multiplicative
// backoff until the budget runs out.
func (c *Client) fetchPage(ctx context.Context, since *civil.Date, offset int) ([]RawRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.retry.BaseDelay << (attempt - 2)
			c.logger.Warn("retrying page fetch",
				zap.Int("offset", offset),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		page, err := c.getPage(ctx, since, offset)
		if err == nil {
			return page, nil
		}
		var contractErr *SourceContractError
		if errors.As(err, &contractErr) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, &TransientSourceError{Attempts: c.retry.MaxAttempts, Err: lastErr}
}

func (c *Client) getPage(ctx context.Context, since *civil.Date, offset int) ([]RawRecord, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &SourceContractError{Err: fmt.Errorf("invalid source url %q: %w", c.baseURL, err)}
	}
	q := u.Query()
	q.Set("$limit", strconv.Itoa(c.pageSize))
	q.Set("$offset", strconv.Itoa(offset))
	q.Set("$order", fieldReportDate)
	if since != nil {
		// Socrata floating timestamps compare lexicographically.
		q.Set("$where", fmt.Sprintf("%s >= '%sT00:00:00'", fieldReportDate, since.String()))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building page request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting page at offset %d: %w", offset, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("source returned status %d for offset %d", resp.StatusCode, offset)
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return nil, &SourceContractError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("request for offset %d rejected", offset),
		}
	}

	var page []RawRecord
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &SourceContractError{Err: fmt.Errorf("decoding page at offset %d: %w", offset, err)}
	}
	return page, nil
}
