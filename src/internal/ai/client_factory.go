package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/admi-n/audit-consensus/src/internal/ai/client"
)

// AIClient 定义所有 AI 客户端必须实现的接口
type AIClient interface {
	Analyze(ctx context.Context, prompt string) (string, error)
	GetName() string
	Close() error
}

// ModelConfig 单个模型的配置，全部由调用方显式提供
type ModelConfig struct {
	ID          string
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Proxy       string
	MaxAttempts uint
}

var validProviders = map[string]bool{
	"chatgpt5":  true,
	"openai":    true,
	"gpt4":      true,
	"deepseek":  true,
	"local-llm": true,
	"ollama":    true,
}

// NewAIClient 根据 provider 创建对应的 AI 客户端。
// 超时由 Invoker 的 context 控制，HTTP 客户端本身不设超时。
func NewAIClient(cfg ModelConfig, logger *zerolog.Logger) (AIClient, error) {
	ccfg := client.Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Proxy:       cfg.Proxy,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	}

	switch strings.ToLower(cfg.Provider) {
	case "chatgpt5", "openai", "gpt4":
		return client.NewOpenAIClient(ccfg)
	case "deepseek":
		return client.NewDeepSeekClient(ccfg)
	case "local-llm", "ollama":
		return client.NewLocalLLMClient(ccfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s (supported: openai, deepseek, local-llm)", cfg.Provider)
	}
}

// unavailableClient 构造失败的模型；每次调用都返回构造时的错误，
// 由 Invoker 记为 transportError，不影响其他模型
type unavailableClient struct {
	id  string
	err error
}

func (u *unavailableClient) Analyze(context.Context, string) (string, error) { return "", u.err }
func (u *unavailableClient) GetName() string                                 { return u.id + " (unavailable)" }
func (u *unavailableClient) Close() error                                    { return nil }

// NewClients 为每个模型创建客户端，ID 必须唯一。
// 单个模型构造失败（例如缺少 API Key）不会返回错误，该模型的每次调用都会失败。
func NewClients(models []ModelConfig, logger *zerolog.Logger) (map[string]AIClient, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	clients := make(map[string]AIClient, len(models))
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}
	for _, m := range models {
		if m.ID == "" {
			closeAll()
			return nil, fmt.Errorf("model id is required (provider %s)", m.Provider)
		}
		if _, dup := clients[m.ID]; dup {
			closeAll()
			return nil, fmt.Errorf("duplicate model id: %s", m.ID)
		}
		c, err := NewAIClient(m, logger)
		if err != nil {
			logger.Warn().Err(err).Str("model", m.ID).Msg("model client unavailable")
			c = &unavailableClient{id: m.ID, err: err}
		}
		clients[m.ID] = c
	}
	return clients, nil
}

// SelectModels 按 ids 的顺序挑出对应配置，未配置的 ID 被忽略
func SelectModels(models []ModelConfig, ids []string) []ModelConfig {
	byID := make(map[string]ModelConfig, len(models))
	for _, m := range models {
		if _, ok := byID[m.ID]; !ok {
			byID[m.ID] = m
		}
	}
	out := make([]ModelConfig, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, m)
		}
	}
	return out
}

// ValidateProvider 验证提供商名称是否有效
func ValidateProvider(provider string) error {
	if !validProviders[strings.ToLower(provider)] {
		return fmt.Errorf("invalid provider '%s', must be one of: chatgpt5, openai, gpt4, deepseek, local-llm, ollama", provider)
	}
	return nil
}
