package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/admi-n/audit-consensus/src/internal/score"
)

// CertificateABI 审计证书合约的铸造接口
const CertificateABI = `[{
	"type": "function",
	"name": "mintCertificate",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "auditedContract", "type": "address"},
		{"name": "securityScore", "type": "uint8"},
		{"name": "riskLevel", "type": "uint8"},
		{"name": "ipfsHash", "type": "string"}
	],
	"outputs": [{"name": "tokenId", "type": "uint256"}]
}]`

const mintMethod = "mintCertificate"

var certificateABI = mustParseABI(CertificateABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid certificate ABI: %v", err))
	}
	return parsed
}

// Certificate 交给铸造方的数据：分数、链上风险枚举、报告哈希和已编码的 calldata
type Certificate struct {
	AuditedContract common.Address    `json:"auditedContract"`
	SecurityScore   uint8             `json:"securityScore"`
	RiskLevel       score.OnChainRisk `json:"riskLevel"`
	RiskLabel       string            `json:"riskLabel"`
	IPFSHash        string            `json:"ipfsHash"`
	ReportHash      common.Hash       `json:"reportHash"`
	Calldata        []byte            `json:"calldata"`
}

// NewCertificate 为已组装的报告生成证书载荷，ipfsHash 由上传方提供
func NewCertificate(report *SecurityReport, contractAddress, ipfsHash string) (*Certificate, error) {
	if report == nil {
		return nil, fmt.Errorf("report is nil")
	}
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address: %q", contractAddress)
	}
	if strings.TrimSpace(ipfsHash) == "" {
		return nil, fmt.Errorf("ipfs hash is required")
	}
	if report.SecurityScore < score.MinScore || report.SecurityScore > score.MaxScore {
		return nil, fmt.Errorf("security score out of range: %d", report.SecurityScore)
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	c := &Certificate{
		AuditedContract: common.HexToAddress(contractAddress),
		SecurityScore:   uint8(report.SecurityScore),
		RiskLevel:       report.RiskLevel.OnChain(),
		IPFSHash:        ipfsHash,
		ReportHash:      crypto.Keccak256Hash(raw),
	}
	c.RiskLabel = c.RiskLevel.String()

	c.Calldata, err = certificateABI.Pack(mintMethod, c.AuditedContract, c.SecurityScore, uint8(c.RiskLevel), c.IPFSHash)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", mintMethod, err)
	}
	return c, nil
}
