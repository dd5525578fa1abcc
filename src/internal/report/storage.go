package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Document 一份已生成的报告内容
type Document struct {
	Content string
	// Format 文件扩展名，例如 md / json
	Format string
}

// Storage 报告存储接口，返回存储位置（文件路径或记录 ID）
type Storage interface {
	Save(ctx context.Context, report *SecurityReport, doc Document) (string, error)
}

// FileStorage 文件存储实现
type FileStorage struct {
	OutputDir string
}

// NewFileStorage 创建文件存储
func NewFileStorage(outputDir string) *FileStorage {
	return &FileStorage{
		OutputDir: outputDir,
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileName 报告文件名：audit_<合约名>_<时间戳>_<ID 前 8 位>.<格式>
func FileName(report *SecurityReport, format string) string {
	name := unsafeName.ReplaceAllString(report.ContractName, "_")
	name = strings.Trim(name, "_.")
	if name == "" {
		name = "contract"
	}
	id := report.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if format == "" {
		format = "txt"
	}
	return fmt.Sprintf("audit_%s_%s_%s.%s", name, report.GeneratedAt.UTC().Format("20060102T150405"), id, format)
}

// Save 保存报告到文件
func (s *FileStorage) Save(ctx context.Context, report *SecurityReport, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// 确保输出目录存在
	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.OutputDir, FileName(report, doc.Format))
	if err := os.WriteFile(path, []byte(doc.Content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	return path, nil
}
