package internal

import (
	"errors"
	"strings"
)

// ErrInput 输入不完整，审计在调用任何模型之前终止
var ErrInput = errors.New("inputError")

// AuditInput 一次审计请求
type AuditInput struct {
	SourceCode      string
	ContractName    string
	ContractAddress string
	// ModelIDs 本次使用的模型，顺序即配置顺序
	ModelIDs []string
}

// Validate 源码为空或只有空白时返回 ErrInput
func (in AuditInput) Validate() error {
	if strings.TrimSpace(in.SourceCode) == "" {
		return errors.Join(ErrInput, errors.New("no source code supplied"))
	}
	return nil
}

// Name 合约名，未提供时返回 "Contract"
func (in AuditInput) Name() string {
	if n := strings.TrimSpace(in.ContractName); n != "" {
		return n
	}
	return "Contract"
}
