package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/admi-n/audit-consensus/src/internal"
)

const (
	DefaultEtherscanURL = "https://api.etherscan.io/v2"
	DefaultChainID      = 1
	DefaultMaxAttempts  = 3
	DefaultTimeout      = 20 * time.Second
	userAgent           = "audit-consensus/1.0"
)

var (
	ErrInvalidAddress = errors.New("invalid contract address")
	ErrNotVerified    = errors.New("contract source is not verified")
	ErrNotContract    = errors.New("address has no contract code")
)

// EtherscanConfig Etherscan API 配置
type EtherscanConfig struct {
	APIKey  string
	BaseURL string
	ChainID int64
	// Proxy 可选的 HTTP 代理，例如 http://127.0.0.1:7897
	Proxy       string
	Timeout     time.Duration
	MaxAttempts uint
	// RetryInterval 第一次重试前的等待
	RetryInterval time.Duration
}

func (c *EtherscanConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultEtherscanURL
	}
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
}

// etherscanResponse 出错时 result 是一段字符串而不是数组
type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type sourceEntry struct {
	SourceCode      string `json:"SourceCode"`
	ContractName    string `json:"ContractName"`
	CompilerVersion string `json:"CompilerVersion"`
	Proxy           string `json:"Proxy"`
	Implementation  string `json:"Implementation"`
}

// Source 已验证合约的源码
type Source struct {
	Address         string
	ContractName    string
	CompilerVersion string
	// SourceCode 多文件合约被展开成一个文本，每个文件前有 "// File: 路径" 标记
	SourceCode string
	Files      []string
	// Implementation 代理合约指向的实现地址
	Implementation string
}

// EtherscanFetcher 从 Etherscan 拉取已验证的合约源码
type EtherscanFetcher struct {
	cfg    EtherscanConfig
	client *http.Client
	code   CodeReader
	logger *zerolog.Logger
}

func NewEtherscanFetcher(cfg EtherscanConfig, logger *zerolog.Logger) (*EtherscanFetcher, error) {
	cfg.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("解析 Etherscan BaseURL 失败: %w", err)
	}
	// 重试在 Fetch 里统一做，传输层只发一次
	client, err := internal.NewHTTPClient(cfg.Proxy, cfg.Timeout, 1, logger)
	if err != nil {
		return nil, fmt.Errorf("解析 Etherscan proxy 失败: %w", err)
	}
	return &EtherscanFetcher{cfg: cfg, client: client, logger: logger}, nil
}

// WithCodeReader 设置后，Fetch 会先确认地址上确实部署了合约
func (f *EtherscanFetcher) WithCodeReader(code CodeReader) *EtherscanFetcher {
	f.code = code
	return f
}

// Fetch 获取合约源码。未验证返回 ErrNotVerified，外部账户返回 ErrNotContract。
func (f *EtherscanFetcher) Fetch(ctx context.Context, address string) (*Source, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	addr := common.HexToAddress(address)

	if f.code != nil {
		if err := ensureContract(ctx, f.code, addr); err != nil {
			return nil, err
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.RetryInterval
	attempt := 0
	entry, err := backoff.Retry(ctx, func() (sourceEntry, error) {
		attempt++
		entry, err := f.request(ctx, addr)
		if err != nil && !isPermanent(err) {
			f.logger.Debug().Err(err).Int("attempt", attempt).Str("address", addr.Hex()).Msg("retrying etherscan request")
		}
		return entry, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(f.cfg.MaxAttempts))
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(entry.SourceCode) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotVerified, addr.Hex())
	}
	code, files, err := Flatten(entry.SourceCode)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 的源码失败: %w", addr.Hex(), err)
	}

	f.logger.Info().
		Str("address", addr.Hex()).
		Str("contract", entry.ContractName).
		Int("files", len(files)).
		Msg("fetched verified source")

	src := &Source{
		Address:         addr.Hex(),
		ContractName:    entry.ContractName,
		CompilerVersion: entry.CompilerVersion,
		SourceCode:      code,
		Files:           files,
	}
	if entry.Proxy == "1" && common.IsHexAddress(entry.Implementation) {
		src.Implementation = common.HexToAddress(entry.Implementation).Hex()
	}
	return src, nil
}

func (f *EtherscanFetcher) endpoint(addr common.Address) (string, error) {
	u, err := url.Parse(strings.TrimRight(f.cfg.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api"

	q := url.Values{}
	q.Set("chainid", strconv.FormatInt(f.cfg.ChainID, 10))
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", addr.Hex())
	q.Set("apikey", strings.TrimSpace(f.cfg.APIKey))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// request 发一次请求；返回的错误里只有网络抖动和限流会被重试
func (f *EtherscanFetcher) request(ctx context.Context, addr common.Address) (sourceEntry, error) {
	endpoint, err := f.endpoint(addr)
	if err != nil {
		return sourceEntry{}, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return sourceEntry{}, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTemporaryNetErr(err) && ctx.Err() == nil {
			return sourceEntry{}, fmt.Errorf("请求 Etherscan API 失败: %w", err)
		}
		return sourceEntry{}, backoff.Permanent(fmt.Errorf("请求 Etherscan API 失败: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sourceEntry{}, fmt.Errorf("读取 Etherscan 响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		err := fmt.Errorf("Etherscan 返回非 200 状态: %d, body: %s", resp.StatusCode, snippet)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return sourceEntry{}, err
		}
		return sourceEntry{}, backoff.Permanent(err)
	}

	var parsed etherscanResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return sourceEntry{}, backoff.Permanent(fmt.Errorf("解析 Etherscan JSON 失败: %w", err))
	}

	if parsed.Status != "1" {
		var msg string
		_ = json.Unmarshal(parsed.Result, &msg)
		if msg == "" {
			msg = parsed.Message
		}
		err := fmt.Errorf("etherscan: %s", msg)
		if strings.Contains(strings.ToLower(msg), "rate limit") {
			return sourceEntry{}, err
		}
		return sourceEntry{}, backoff.Permanent(err)
	}

	var entries []sourceEntry
	if err := json.Unmarshal(parsed.Result, &entries); err != nil {
		return sourceEntry{}, backoff.Permanent(fmt.Errorf("解析 Etherscan result 失败: %w", err))
	}
	if len(entries) == 0 {
		return sourceEntry{}, nil
	}
	return entries[0], nil
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// isTemporaryNetErr 超时和连接被中途断开视为可重试
func isTemporaryNetErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
