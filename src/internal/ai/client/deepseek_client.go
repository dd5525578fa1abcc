package client

import "fmt"

// DeepSeekClient 实现 DeepSeek API 调用（与 OpenAI 兼容）
type DeepSeekClient struct {
	*chatClient
}

// NewDeepSeekClient 默认 BaseURL "https://api.deepseek.com/v1"，默认模型 deepseek-chat
func NewDeepSeekClient(cfg Config) (*DeepSeekClient, error) {
	cfg.applyDefaults("https://api.deepseek.com/v1", "deepseek-chat")
	c, err := newChatClient("DeepSeek", cfg)
	if err != nil {
		return nil, err
	}
	return &DeepSeekClient{chatClient: c}, nil
}

// GetName 返回客户端名称
func (c *DeepSeekClient) GetName() string {
	return fmt.Sprintf("DeepSeek (%s)", c.cfg.Model)
}
