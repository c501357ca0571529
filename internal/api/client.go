package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"saberstats/internal/constants"
)

// ErrNotFound marks an HTTP 404. Callers treat it as "no data", never as a
// failure: it terminates pagination and marks a player as not participating.
var ErrNotFound = errors.New("not found")

// ErrMalformed marks a response body that could not be decoded into the
// expected shape.
var ErrMalformed = errors.New("malformed response")

// StatusError is a non-2xx, non-404 response that survived the retry budget.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d", e.Code)
}

// RateLimitError is returned once the 429 retry budget is exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("api: rate limited, retry after %s", e.RetryAfter)
}

// Client wraps a shared fasthttp client with the retry policy every service
// client uses. Retries are an explicit bounded loop so the caps and the two
// backoff sources (Retry-After for 429, fixed wait for read timeouts) stay
// visible and testable.
type Client struct {
	http    *fasthttp.Client
	timeout time.Duration
	logger  zerolog.Logger
}

func NewClient(logger zerolog.Logger) *Client {
	return NewClientWithTimeout(constants.ExternalAPITimeout, logger)
}

func NewClientWithTimeout(timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = constants.ExternalAPITimeout
	}
	return &Client{
		http: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		timeout: timeout,
		logger:  logger,
	}
}

// Get fetches url and returns the response body. 404 maps to ErrNotFound.
// 429 responses are retried up to RateLimitMaxRetries times, sleeping for the
// server's Retry-After (or a fixed fallback); read timeouts are retried up to
// TimeoutMaxRetries times with a fixed wait. Both loops have hard caps.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	rateLimitRetries := 0
	timeoutRetries := 0

	for {
		body, status, retryAfter, err := c.do(ctx, url)

		switch {
		case err != nil && isTimeout(err):
			timeoutRetries++
			if timeoutRetries > constants.TimeoutMaxRetries {
				return nil, fmt.Errorf("api: read timeout after %d retries: %w", constants.TimeoutMaxRetries, err)
			}
			c.logger.Warn().Str("url", url).Int("retry", timeoutRetries).Msg("read timeout, retrying")
			if err := sleep(ctx, constants.TimeoutRetryWait); err != nil {
				return nil, err
			}
			continue

		case err != nil:
			return nil, fmt.Errorf("api: request failed: %w", err)

		case status == fasthttp.StatusNotFound:
			return nil, ErrNotFound

		case status == fasthttp.StatusTooManyRequests:
			rateLimitRetries++
			wait := retryAfter
			if wait <= 0 {
				wait = constants.RateLimitFallbackWait
			}
			if rateLimitRetries > constants.RateLimitMaxRetries {
				return nil, &RateLimitError{RetryAfter: wait}
			}
			c.logger.Warn().
				Str("url", url).
				Int("retry", rateLimitRetries).
				Dur("wait", wait).
				Msg("rate limited, retrying")
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case status < 200 || status > 299:
			return nil, &StatusError{Code: status}

		default:
			return body, nil
		}
	}
}

func (c *Client) do(ctx context.Context, url string) (body []byte, status int, retryAfter time.Duration, err error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, 0, err
	}

	if ra := string(resp.Header.Peek(fasthttp.HeaderRetryAfter)); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
			retryAfter = time.Duration(secs * float64(time.Second))
		}
	}

	// Body() is only valid until release, copy it out.
	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, resp.StatusCode(), retryAfter, nil
}

// getJSON fetches url and decodes the body into T.
func getJSON[T any](ctx context.Context, c *Client, url string) (*T, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, url, err)
	}
	return &result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Transient reports whether err belongs to the retriable class (timeouts,
// rate limits, transport errors, 5xx). Not-found and decode failures are not
// transient.
func Transient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformed) {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// modifiersFromString detects no-fail and slow-song markers in a
// comma-separated modifier list such as "NF,SS".
func modifiersFromString(mods string) (noFail, slowSong bool) {
	for _, m := range strings.Split(mods, ",") {
		switch strings.ToUpper(strings.TrimSpace(m)) {
		case "NF":
			noFail = true
		case "SS":
			slowSong = true
		}
	}
	return noFail, slowSong
}
