package report

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Reporter 报告器，整合生成器和存储功能
type Reporter struct {
	generator Generator
	storage   Storage
	logger    *zerolog.Logger
}

// NewReporter 创建报告器
func NewReporter(generator Generator, storage Storage, logger *zerolog.Logger) *Reporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reporter{
		generator: generator,
		storage:   storage,
		logger:    logger,
	}
}

// Render 只生成内容，不落盘
func (r *Reporter) Render(report *SecurityReport) (Document, error) {
	content, err := r.generator.Generate(report)
	if err != nil {
		return Document{}, fmt.Errorf("failed to generate report: %w", err)
	}
	return Document{Content: content, Format: r.generator.Extension()}, nil
}

// GenerateAndSave 生成并保存报告
func (r *Reporter) GenerateAndSave(ctx context.Context, report *SecurityReport) (string, error) {
	doc, err := r.Render(report)
	if err != nil {
		return "", err
	}

	location, err := r.storage.Save(ctx, report, doc)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	r.logger.Info().
		Str("report", report.ID).
		Str("format", doc.Format).
		Str("location", location).
		Msg("report saved")
	return location, nil
}
