package client

import "fmt"

// OpenAIClient 实现 OpenAI API 调用
type OpenAIClient struct {
	*chatClient
}

// NewOpenAIClient 默认 BaseURL "https://api.openai.com/v1"，默认模型 gpt-4-turbo
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	cfg.applyDefaults("https://api.openai.com/v1", "gpt-4-turbo")
	c, err := newChatClient("OpenAI", cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{chatClient: c}, nil
}

// GetName 返回客户端名称
func (c *OpenAIClient) GetName() string {
	return fmt.Sprintf("OpenAI (%s)", c.cfg.Model)
}
