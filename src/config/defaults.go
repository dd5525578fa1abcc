package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/admi-n/audit-consensus/src/internal/ai"
	"github.com/admi-n/audit-consensus/src/internal/consensus"
	"github.com/admi-n/audit-consensus/src/internal/download"
	"github.com/admi-n/audit-consensus/src/internal/patch"
)

// Default 默认配置，密钥一律通过环境变量提供
func Default() *Settings {
	return &Settings{
		Models: []ModelSettings{
			{ID: "gpt", Provider: "openai", APIKeyEnv: "OPENAI_API_KEY", Model: "gpt-4-turbo"},
			{ID: "deepseek", Provider: "deepseek", APIKeyEnv: "DEEPSEEK_API_KEY", Model: "deepseek-chat"},
			{ID: "llama", Provider: "local-llm", BaseURL: "http://localhost:11434", Model: "llama3", Timeout: "60s"},
		},
		Invoker: InvokerSettings{DefaultTimeout: ai.DefaultTimeout.String()},
		Consensus: ConsensusSettings{
			SimilarityThreshold: consensus.DefaultSimilarityThreshold,
			MinAgreement:        consensus.DefaultMinAgreement,
		},
		Score: ScoreSettings{Penalties: map[string]float64{
			"CRITICAL": 25, "HIGH": 15, "MEDIUM": 8, "LOW": 3, "INFO": 1,
		}},
		Patch: PatchSettings{TopN: patch.DefaultTopN},
		Etherscan: EtherscanSettings{
			APIKeyEnv: "ETHERSCAN_API_KEY",
			BaseURL:   download.DefaultEtherscanURL,
			ChainID:   download.DefaultChainID,
		},
		Storage: StorageSettings{Driver: "file", OutputDir: "reports"},
		Cache:   CacheSettings{TTL: "0s"},
		Report:  ReportSettings{Format: "md"},
	}
}

// WriteDefault 把默认配置写到 path；文件已存在且 force 为 false 时报错
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
