package client

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// DefaultSystemPrompt 所有对话型模型共用的系统提示
const DefaultSystemPrompt = `You are an expert smart contract security auditor specialized in finding vulnerabilities in Solidity code.
Analyze the provided contract code carefully and identify potential security issues.
Respond with a single JSON object that follows the schema given in the user message and nothing else.`

// Config 各 provider 客户端的公共配置，所有值都由调用方显式传入
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	Proxy        string
	MaxAttempts  uint
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Logger       *zerolog.Logger
}

func (c *Config) applyDefaults(baseURL, model string) {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1 // 较低的温度以获得更确定的结果
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// 共享的 API 类型定义（OpenAI 兼容）

// Message 消息结构
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice 选择结构
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage 使用情况结构
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError API 错误结构
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// MaxErrorBody 错误响应体最多保留的字节数，超出部分丢弃
const MaxErrorBody = 512

// StatusError provider 返回非 2xx；Body 已截断并压缩空白
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// newStatusError 只读取响应体的前 MaxErrorBody 字节
func newStatusError(provider string, resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBody+1))
	return &StatusError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       truncate(strings.Join(strings.Fields(string(raw)), " "), MaxErrorBody),
	}
}

// truncate 按字节截断，不切开多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
