// Package extract 把已经含有机器可读文本的文件（PDF、Office 文档、纯文本）转换为纯文本，不做 OCR。
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

// LegacyExtractor 处理没有 Go 解析器的格式，例如二进制 .doc。Tika 客户端实现了它。
type LegacyExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Extractor 按声明的文档类型分派。
type Extractor struct {
	legacy LegacyExtractor
}

// Option 配置 Extractor。
type Option func(*Extractor)

// WithLegacy 通过外部服务支持 .doc。
func WithLegacy(l LegacyExtractor) Option {
	return func(e *Extractor) {
		e.legacy = l
	}
}

// New 创建一个 Extractor。
func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NormalizeType 把 "PDF"、".pdf" 统一为 "pdf"。
func NormalizeType(declared string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(declared), "."))
}

// Supports 判断 Extract 是否支持该类型。
func (e *Extractor) Supports(declared string) bool {
	switch NormalizeType(declared) {
	case "pdf", "docx", "txt", "md":
		return true
	case "doc":
		return e.legacy != nil
	}
	return false
}

// Extract 返回 path 处文件的纯文本。
// 失败时返回 errs.ErrUnsupportedFormat 或 errs.ErrCorruptFile。
func (e *Extractor) Extract(ctx context.Context, path, declared string) (string, error) {
	kind := NormalizeType(declared)
	if !e.Supports(kind) {
		return "", fmt.Errorf("extract %q: %w", declared, errs.ErrUnsupportedFormat)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}

	var (
		text string
		err  error
	)
	switch kind {
	case "pdf":
		text, err = extractPDF(path)
	case "docx":
		text, err = extractDOCX(path)
	case "txt", "md":
		text, err = extractText(path)
	case "doc":
		text, err = e.extractLegacy(ctx, path)
	}
	if err != nil {
		log.Warnf("[Extractor] %s 抽取失败: %v", filepath.Base(path), err)
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *Extractor) extractLegacy(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	text, err := e.legacy.ExtractText(ctx, f, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrCorruptFile, err)
	}
	return text, nil
}
