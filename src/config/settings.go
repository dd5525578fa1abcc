package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/admi-n/audit-consensus/src/internal/ai"
	"github.com/admi-n/audit-consensus/src/internal/consensus"
	"github.com/admi-n/audit-consensus/src/internal/download"
	"github.com/admi-n/audit-consensus/src/internal/finding"
	"github.com/admi-n/audit-consensus/src/internal/pipeline"
	"github.com/admi-n/audit-consensus/src/internal/score"
)

const (
	// EnvPrefix 环境变量前缀，例如 AUDIT_PATCH_TOP_N
	EnvPrefix = "AUDIT"
	// DefaultFileName 默认配置文件名（不含扩展名）
	DefaultFileName = "settings"
)

// ModelSettings 单个模型
type ModelSettings struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Provider string `mapstructure:"provider" yaml:"provider"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// APIKeyEnv 从该环境变量读取 API Key，优先于 APIKey
	APIKeyEnv   string `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	BaseURL     string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model       string `mapstructure:"model" yaml:"model,omitempty"`
	Timeout     string `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Proxy       string `mapstructure:"proxy" yaml:"proxy,omitempty"`
	MaxAttempts uint   `mapstructure:"max_attempts" yaml:"max_attempts,omitempty"`
}

type InvokerSettings struct {
	DefaultTimeout string `mapstructure:"default_timeout" yaml:"default_timeout"`
	Concurrency    int    `mapstructure:"concurrency" yaml:"concurrency"`
}

type ConsensusSettings struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	MinAgreement        int     `mapstructure:"min_agreement" yaml:"min_agreement"`
	MinConfidence       float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
}

type ScoreSettings struct {
	// Penalties 各严重性的扣分，键为 CRITICAL/HIGH/MEDIUM/LOW/INFO
	Penalties map[string]float64 `mapstructure:"penalties" yaml:"penalties"`
}

type PatchSettings struct {
	TopN int `mapstructure:"top_n" yaml:"top_n"`
}

type PromptSettings struct {
	// Template 模板文件路径，为空时使用内置模板
	Template string `mapstructure:"template" yaml:"template"`
}

type EtherscanSettings struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	ChainID   int64  `mapstructure:"chain_id" yaml:"chain_id"`
	Proxy     string `mapstructure:"proxy" yaml:"proxy,omitempty"`
}

type RPCSettings struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type StorageSettings struct {
	// Driver file / mysql / postgres
	Driver    string `mapstructure:"driver" yaml:"driver"`
	DSN       string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Table     string `mapstructure:"table" yaml:"table,omitempty"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

type CacheSettings struct {
	TTL string `mapstructure:"ttl" yaml:"ttl"`
}

type ReportSettings struct {
	Format string `mapstructure:"format" yaml:"format"`
}

// Settings 全局配置
type Settings struct {
	Models    []ModelSettings   `mapstructure:"models" yaml:"models"`
	Invoker   InvokerSettings   `mapstructure:"invoker" yaml:"invoker"`
	Consensus ConsensusSettings `mapstructure:"consensus" yaml:"consensus"`
	Score     ScoreSettings     `mapstructure:"score" yaml:"score"`
	Patch     PatchSettings     `mapstructure:"patch" yaml:"patch"`
	Prompt    PromptSettings    `mapstructure:"prompt" yaml:"prompt"`
	Etherscan EtherscanSettings `mapstructure:"etherscan" yaml:"etherscan"`
	RPC       RPCSettings       `mapstructure:"rpc" yaml:"rpc"`
	Storage   StorageSettings   `mapstructure:"storage" yaml:"storage"`
	Cache     CacheSettings     `mapstructure:"cache" yaml:"cache"`
	Report    ReportSettings    `mapstructure:"report" yaml:"report"`

	// ConfigFile 实际读取的配置文件，未找到时为空
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("invoker.default_timeout", ai.DefaultTimeout.String())
	v.SetDefault("invoker.concurrency", 0)
	v.SetDefault("consensus.similarity_threshold", consensus.DefaultSimilarityThreshold)
	v.SetDefault("consensus.min_agreement", consensus.DefaultMinAgreement)
	v.SetDefault("consensus.min_confidence", 0.0)
	v.SetDefault("patch.top_n", 3)
	v.SetDefault("prompt.template", "")
	v.SetDefault("etherscan.api_key", "")
	v.SetDefault("etherscan.api_key_env", "ETHERSCAN_API_KEY")
	v.SetDefault("etherscan.base_url", download.DefaultEtherscanURL)
	v.SetDefault("etherscan.chain_id", download.DefaultChainID)
	v.SetDefault("etherscan.proxy", "")
	v.SetDefault("rpc.url", "")
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.table", "")
	v.SetDefault("storage.output_dir", "reports")
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("report.format", "md")
}

// Load 读取配置文件和 AUDIT_ 前缀的环境变量。
// path 为空时在 ./ 与 ./config 下查找 settings.yaml，找不到不算错误。
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	s.ConfigFile = v.ConfigFileUsed()
	s.resolveSecrets()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// resolveSecrets 用 *_env 指向的环境变量覆盖密钥
func (s *Settings) resolveSecrets() {
	for i := range s.Models {
		if env := s.Models[i].APIKeyEnv; env != "" {
			if key := os.Getenv(env); key != "" {
				s.Models[i].APIKey = key
			}
		}
	}
	if env := s.Etherscan.APIKeyEnv; env != "" {
		if key := os.Getenv(env); key != "" {
			s.Etherscan.APIKey = key
		}
	}
}

// Validate 检查模型列表、时长字段和存储驱动
func (s *Settings) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(s.Models))
	for i, m := range s.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("models[%d]: id is required", i))
		} else if seen[m.ID] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate id %s", i, m.ID))
		}
		seen[m.ID] = true
		if err := ai.ValidateProvider(m.Provider); err != nil {
			errs = append(errs, fmt.Errorf("models[%d]: %w", i, err))
		}
		if _, err := parseDuration(m.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("models[%d].timeout: %w", i, err))
		}
	}
	if _, err := parseDuration(s.Invoker.DefaultTimeout); err != nil {
		errs = append(errs, fmt.Errorf("invoker.default_timeout: %w", err))
	}
	if _, err := parseDuration(s.Cache.TTL); err != nil {
		errs = append(errs, fmt.Errorf("cache.ttl: %w", err))
	}
	for sev := range s.Score.Penalties {
		if !finding.Severity(strings.ToUpper(sev)).Valid() {
			errs = append(errs, fmt.Errorf("score.penalties: unknown severity %q", sev))
		}
	}
	switch strings.ToLower(s.Storage.Driver) {
	case "", "file", "mysql", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported driver %q", s.Storage.Driver))
	}
	return errors.Join(errs...)
}

func parseDuration(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}

// ModelIDs 配置顺序的模型 ID
func (s *Settings) ModelIDs() []string {
	ids := make([]string, 0, len(s.Models))
	for _, m := range s.Models {
		ids = append(ids, m.ID)
	}
	return ids
}

// ModelConfigs 转换为客户端工厂的配置
func (s *Settings) ModelConfigs() []ai.ModelConfig {
	out := make([]ai.ModelConfig, 0, len(s.Models))
	for _, m := range s.Models {
		timeout, _ := parseDuration(m.Timeout)
		out = append(out, ai.ModelConfig{
			ID:          m.ID,
			Provider:    m.Provider,
			APIKey:      m.APIKey,
			BaseURL:     m.BaseURL,
			Model:       m.Model,
			Timeout:     timeout,
			Proxy:       m.Proxy,
			MaxAttempts: m.MaxAttempts,
		})
	}
	return out
}

// InvokerConfig 默认超时加上按模型覆盖的超时
func (s *Settings) InvokerConfig() ai.InvokerConfig {
	def, _ := parseDuration(s.Invoker.DefaultTimeout)
	cfg := ai.InvokerConfig{
		DefaultTimeout: def,
		Timeouts:       map[string]time.Duration{},
		Concurrency:    s.Invoker.Concurrency,
	}
	for _, m := range s.ModelConfigs() {
		if m.Timeout > 0 {
			cfg.Timeouts[m.ID] = m.Timeout
		}
	}
	return cfg
}

// ConsensusConfig crossValidated 为 true 时至少需要两个模型同意
func (s *Settings) ConsensusConfig(crossValidated bool) consensus.Config {
	cfg := consensus.Config{
		SimilarityThreshold: s.Consensus.SimilarityThreshold,
		MinAgreement:        s.Consensus.MinAgreement,
		MinConfidence:       s.Consensus.MinConfidence,
		ModelOrder:          s.ModelIDs(),
	}
	if crossValidated && cfg.MinAgreement < 2 {
		cfg.MinAgreement = 2
	}
	return cfg
}

// Penalties 未配置的严重性使用默认扣分
func (s *Settings) Penalties() score.Penalties {
	p := score.DefaultPenalties()
	for sev, v := range s.Score.Penalties {
		p[finding.Severity(strings.ToUpper(sev))] = v
	}
	return p
}

func (s *Settings) CacheTTL() time.Duration {
	ttl, _ := parseDuration(s.Cache.TTL)
	return ttl
}

// PipelineConfig 流水线参数；promptTemplate 为模板内容
func (s *Settings) PipelineConfig(crossValidated bool, promptTemplate string) pipeline.Config {
	return pipeline.Config{
		Consensus:      s.ConsensusConfig(crossValidated),
		Penalties:      s.Penalties(),
		PatchTopN:      s.Patch.TopN,
		PromptTemplate: promptTemplate,
		CacheTTL:       s.CacheTTL(),
	}
}

func (s *Settings) EtherscanConfig() download.EtherscanConfig {
	return download.EtherscanConfig{
		APIKey:  s.Etherscan.APIKey,
		BaseURL: s.Etherscan.BaseURL,
		ChainID: s.Etherscan.ChainID,
		Proxy:   s.Etherscan.Proxy,
	}
}
