package networking

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flakyServer(t *testing.T, failures int32, failStatus int, header http.Header) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		body, _ := io.ReadAll(r.Body)
		if r.Method == http.MethodPost {
			assert.Equal(t, `{"prompt":"audit"}`, string(body))
		}
		if n <= failures {
			for k, v := range header {
				w.Header()[k] = v
			}
			w.WriteHeader(failStatus)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func client(attempts uint) *http.Client {
	return &http.Client{Transport: NewRetryRoundTripper(nil, attempts, time.Millisecond, nil)}
}

func TestRetryRoundTripper_RetriesTransientStatus(t *testing.T) {
	srv, hits := flakyServer(t, 2, http.StatusServiceUnavailable, nil)

	resp, err := client(3).Post(srv.URL, "application/json", strings.NewReader(`{"prompt":"audit"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
	assert.Equal(t, "3", resp.Header.Get(AttemptCountHeader))
}

func TestRetryRoundTripper_DefaultIsSingleAttempt(t *testing.T) {
	srv, hits := flakyServer(t, 5, http.StatusTooManyRequests, nil)

	resp, err := client(0).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestRetryRoundTripper_ExhaustedReturnsLastResponse(t *testing.T) {
	srv, hits := flakyServer(t, 10, http.StatusBadGateway, nil)

	resp, err := client(2).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestRetryRoundTripper_RetryAfterTooFarStops(t *testing.T) {
	srv, hits := flakyServer(t, 10, http.StatusTooManyRequests, http.Header{"Retry-After": []string{"3600"}})

	resp, err := client(5).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestRetryRoundTripper_NonRetryableStatus(t *testing.T) {
	srv, hits := flakyServer(t, 10, http.StatusUnauthorized, nil)

	resp, err := client(5).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestRetryRoundTripper_NetworkErrorIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := client(3).Get(url)
	assert.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC1123)
	assert.Greater(t, parseRetryAfter(future), 59*time.Minute)
}
