package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/admi-n/audit-consensus/src/internal"
)

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// chatClient OpenAI 兼容的 /chat/completions 调用，OpenAI 与 DeepSeek 共用
type chatClient struct {
	provider   string
	cfg        Config
	httpClient *http.Client
	logger     *zerolog.Logger
}

func newChatClient(provider string, cfg Config) (*chatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", provider)
	}
	httpClient, err := internal.NewHTTPClient(cfg.Proxy, cfg.Timeout, cfg.MaxAttempts, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP客户端失败: %w", err)
	}
	if cfg.Proxy != "" {
		cfg.Logger.Debug().Str("provider", provider).Str("proxy", cfg.Proxy).Msg("使用代理")
	}
	return &chatClient{
		provider:   provider,
		cfg:        cfg,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}, nil
}

// SendPrompt 发送 prompt 并返回第一条回复
func (c *chatClient) SendPrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newStatusError(c.provider, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("%s API error: %s (type: %s, code: %v)",
			c.provider, apiResp.Error.Message, apiResp.Error.Type, apiResp.Error.Code)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	c.logger.Debug().
		Str("provider", c.provider).
		Str("model", c.cfg.Model).
		Int("prompt_tokens", apiResp.Usage.PromptTokens).
		Int("completion_tokens", apiResp.Usage.CompletionTokens).
		Msg("token usage")

	return apiResp.Choices[0].Message.Content, nil
}

// Analyze 实现 AIClient 接口
func (c *chatClient) Analyze(ctx context.Context, prompt string) (string, error) {
	return c.SendPrompt(ctx, c.cfg.SystemPrompt, prompt)
}

// Close 清理资源
func (c *chatClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
