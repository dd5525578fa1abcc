package networking

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxAttempts 默认只发一次，不重试
	DefaultMaxAttempts uint = 1
	// DefaultInitialInterval 第一次重试前的等待
	DefaultInitialInterval = 2 * time.Second
	maxRetryAfter          = 2 * time.Minute
	AttemptCountHeader     = "X-Audit-Attempt-Count"
)

// 这些状态码视为暂时性失败
var statusCodesToRetry = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusTooEarly:            true,
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var (
	errRetryNecessary   = errors.New("retry with backoff")
	errRetryAfterTooFar = errors.New("retry-after is too far in the future")
)

// RetryRoundTripper 对 429/5xx 做指数退避重试，整体受请求 context 约束
type RetryRoundTripper struct {
	next            http.RoundTripper
	maxAttempts     uint
	initialInterval time.Duration
	logger          *zerolog.Logger
}

func NewRetryRoundTripper(next http.RoundTripper, maxAttempts uint, initialInterval time.Duration, logger *zerolog.Logger) *RetryRoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialInterval <= 0 {
		initialInterval = DefaultInitialInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RetryRoundTripper{
		next:            next,
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
		logger:          logger,
	}
}

func (rt *RetryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	attempts := 0

	// 请求体需要在多次尝试之间复用
	if req.Body != nil && rt.maxAttempts > 1 {
		var err error
		body, err = io.ReadAll(req.Body)
		closeErr := req.Body.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	var previous *http.Response
	op := func() (*http.Response, error) {
		attempts++
		if previous != nil && previous.Body != nil {
			_, _ = io.Copy(io.Discard, previous.Body)
			previous.Body.Close()
		}

		local := req.Clone(req.Context())
		if body != nil {
			local.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := rt.next.RoundTrip(local)
		if err != nil {
			return resp, backoff.Permanent(err)
		}
		if attempts > 1 && resp.Header != nil {
			resp.Header.Set(AttemptCountHeader, strconv.Itoa(attempts))
		}
		if retryErr := shouldRetry(resp); retryErr != nil {
			rt.logger.Debug().
				Str("url", req.URL.Redacted()).
				Int("status", resp.StatusCode).
				Int("attempt", attempts).
				Msg("retrying request")
			previous = resp
			return resp, retryErr
		}
		return resp, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rt.initialInterval
	resp, err := backoff.Retry(req.Context(), op, backoff.WithBackOff(b), backoff.WithMaxTries(rt.maxAttempts))

	// 重试用尽时把最后一次响应原样交给调用方，由它按状态码处理
	if errors.Is(err, errRetryNecessary) || errors.Is(err, errRetryAfterTooFar) {
		if rt.maxAttempts > 1 {
			rt.logger.Warn().
				Str("url", req.URL.Redacted()).
				Int("attempts", attempts).
				Msg("retry ultimately failed")
		}
		return resp, nil
	}
	var retryAfter *backoff.RetryAfterError
	if errors.As(err, &retryAfter) && resp != nil {
		return resp, nil
	}
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

func shouldRetry(resp *http.Response) error {
	if !statusCodesToRetry[resp.StatusCode] {
		return nil
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		delay := parseRetryAfter(v)
		if delay > maxRetryAfter {
			return backoff.Permanent(errRetryAfterTooFar)
		}
		if delay > 0 {
			return &backoff.RetryAfterError{Duration: delay}
		}
	}
	return errRetryNecessary
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if until := time.Until(t); until > 0 {
			return until
		}
	}
	return 0
}
