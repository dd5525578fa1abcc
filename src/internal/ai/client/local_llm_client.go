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

// LocalLLMClient 本地 LLM 客户端（例如 Ollama）
type LocalLLMClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *zerolog.Logger
}

// Ollama API 请求/响应结构
type ollamaRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewLocalLLMClient 默认 "http://localhost:11434"，模型 llama2，不需要 API key
func NewLocalLLMClient(cfg Config) (*LocalLLMClient, error) {
	cfg.applyDefaults("http://localhost:11434", "llama2")

	httpClient, err := internal.NewHTTPClient(cfg.Proxy, cfg.Timeout, cfg.MaxAttempts, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP客户端失败: %w", err)
	}

	return &LocalLLMClient{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}, nil
}

// Analyze 实现 AIClient 接口
func (c *LocalLLMClient) Analyze(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:  c.cfg.Model,
		System: c.cfg.SystemPrompt,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", c.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newStatusError("Ollama", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", apiResp.Error)
	}

	c.logger.Debug().Str("model", c.cfg.Model).Bool("done", apiResp.Done).Msg("local llm responded")
	return apiResp.Response, nil
}

// GetName 返回客户端名称
func (c *LocalLLMClient) GetName() string {
	return fmt.Sprintf("Local LLM (%s)", c.cfg.Model)
}

// Close 清理资源
func (c *LocalLLMClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
