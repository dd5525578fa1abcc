package internal

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/admi-n/audit-consensus/src/internal/networking"
)

// ProxyManager 代理管理器
type ProxyManager struct {
	proxyURL *url.URL
}

// NewProxyManager 创建代理管理器，空字符串表示直连
func NewProxyManager(proxyURL string) (*ProxyManager, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return &ProxyManager{}, nil
	}
	if err := ValidateProxyURL(proxyURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	return &ProxyManager{proxyURL: u}, nil
}

// CreateHTTPTransport 创建带代理的HTTP Transport
func (pm *ProxyManager) CreateHTTPTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.IdleConnTimeout = 30 * time.Second
	if pm.proxyURL != nil {
		transport.Proxy = http.ProxyURL(pm.proxyURL)
	}
	return transport
}

// CreateHTTPClient 创建带代理和重试的HTTP客户端。
// timeout 为 0 时不设客户端超时，由请求 context 控制。
func (pm *ProxyManager) CreateHTTPClient(timeout time.Duration, maxAttempts uint, logger *zerolog.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: networking.NewRetryRoundTripper(pm.CreateHTTPTransport(), maxAttempts, 0, logger),
	}
}

// IsEnabled 检查代理是否启用
func (pm *ProxyManager) IsEnabled() bool {
	return pm.proxyURL != nil
}

// GetProxyURL 获取代理URL
func (pm *ProxyManager) GetProxyURL() string {
	if pm.proxyURL != nil {
		return pm.proxyURL.String()
	}
	return ""
}

// ValidateProxyURL 验证代理URL格式
func ValidateProxyURL(proxyURL string) error {
	if strings.TrimSpace(proxyURL) == "" {
		return nil // 空字符串表示不使用代理
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL format: %w", err)
	}

	// 检查协议
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "socks5" {
		return fmt.Errorf("unsupported proxy scheme: %s (supported: http, https, socks5)", u.Scheme)
	}

	// 检查主机名
	if u.Host == "" {
		return fmt.Errorf("proxy host cannot be empty")
	}

	return nil
}

// NewHTTPClient 便捷函数：按代理地址、超时和重试次数创建客户端
func NewHTTPClient(proxyURL string, timeout time.Duration, maxAttempts uint, logger *zerolog.Logger) (*http.Client, error) {
	pm, err := NewProxyManager(proxyURL)
	if err != nil {
		return nil, err
	}
	return pm.CreateHTTPClient(timeout, maxAttempts, logger), nil
}
