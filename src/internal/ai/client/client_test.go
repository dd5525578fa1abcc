package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "audit this", req.Messages[1].Content)

		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_Analyze(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"vulnerabilities\":[]}"}}],"usage":{"total_tokens":10}}`)

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o"})
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Analyze(context.Background(), "audit this")
	require.NoError(t, err)
	assert.Equal(t, `{"vulnerabilities":[]}`, out)
	assert.Equal(t, "OpenAI (gpt-4o)", c.GetName())
}

func TestDeepSeekClient_StatusError(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)

	c, err := NewDeepSeekClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "audit this")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "DeepSeek API returned status 401")
	assert.Equal(t, "DeepSeek (deepseek-chat)", c.GetName())
}

func TestChatClient_APIErrorInBody(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"error":{"message":"quota","type":"insufficient_quota","code":429}}`)

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "audit this")
	assert.ErrorContains(t, err, "quota")
}

func TestChatClient_NoChoices(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"choices":[]}`)

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "audit this")
	assert.ErrorContains(t, err, "no choices")
}

func TestChatClient_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient(Config{})
	assert.Error(t, err)
	_, err = NewDeepSeekClient(Config{})
	assert.Error(t, err)
}

func TestChatClient_InvalidProxy(t *testing.T) {
	_, err := NewOpenAIClient(Config{APIKey: "k", Proxy: "ftp://proxy"})
	assert.Error(t, err)
}

func TestLocalLLMClient_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "codellama", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, DefaultSystemPrompt, req.System)
		_, _ = w.Write([]byte(`{"model":"codellama","response":"{}","done":true}`))
	}))
	defer srv.Close()

	c, err := NewLocalLLMClient(Config{BaseURL: srv.URL, Model: "codellama"})
	require.NoError(t, err)

	out, err := c.Analyze(context.Background(), "audit this")
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.Equal(t, "Local LLM (codellama)", c.GetName())
	assert.NoError(t, c.Close())
}

func TestLocalLLMClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	c, err := NewLocalLLMClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "audit this")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestStatusError_BodyIsBounded(t *testing.T) {
	page := "<html>\n<body>\n" + strings.Repeat("<p>502 Bad Gateway</p>\n", 200) + "</body>\n</html>"
	srv := chatServer(t, http.StatusBadGateway, page)

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "audit this")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.LessOrEqual(t, len(statusErr.Body), MaxErrorBody+len("..."))
	assert.True(t, strings.HasPrefix(statusErr.Body, "<html> <body> <p>502 Bad Gateway</p>"))
	assert.NotContains(t, statusErr.Error(), "\n")
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "a...", truncate("a漏洞", 2))
}
