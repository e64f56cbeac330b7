// Package ocr 把图片和扫描版 PDF 交给可插拔的 OCR 后端识别，
// 统一返回文本与 [0,1] 区间的置信度。
package ocr

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/pkg/cmdrun"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

const (
	EngineTesseract = "tesseract"
	EngineEasyOCR   = "easyocr"

	defaultDPI = 300
)

// PageResult 是单张图片的识别结果。
type PageResult struct {
	Text       string
	Confidence float64
}

// Result 是整份文件的识别结果。
type Result struct {
	Text       string
	Confidence float64
	Pages      int
}

// Backend 是一个 OCR 实现。
type Backend interface {
	Name() string
	// Version 探测后端是否可用，并返回其版本描述。
	Version(ctx context.Context) (string, error)
	RecognizeImage(ctx context.Context, imagePath string) (PageResult, error)
}

// PageSource 是一份已打开、可按页渲染的 PDF。
type PageSource interface {
	NumPage() int
	RenderPNG(page, dpi int) ([]byte, error)
	Close() error
}

// Rasterizer 打开 PDF 以便逐页渲染。
type Rasterizer interface {
	Open(path string) (PageSource, error)
}

// Adapter 持有启动时选定的后端。
type Adapter struct {
	backend Backend
	version string
	raster  Rasterizer
	dpi     int
	tempDir string
}

// Option 配置 Adapter。
type Option func(*Adapter)

// WithRasterizer 设置 PDF 渲染器；未设置时 PDF 识别返回 ErrBackendUnavailable。
func WithRasterizer(r Rasterizer) Option {
	return func(a *Adapter) { a.raster = r }
}

// WithDPI 设置 PDF 渲染分辨率。
func WithDPI(dpi int) Option {
	return func(a *Adapter) {
		if dpi > 0 {
			a.dpi = dpi
		}
	}
}

// WithTempDir 设置页面图片的临时目录，空字符串表示系统默认目录。
func WithTempDir(dir string) Option {
	return func(a *Adapter) { a.tempDir = dir }
}

// NewBackend 按名称构造后端。
func NewBackend(name string, cfg config.OCRConfig, runner cmdrun.Runner, httpClient *http.Client) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case EngineTesseract:
		return NewTesseract(runner, cfg.TesseractPath, cfg.Language), nil
	case EngineEasyOCR:
		if cfg.EasyOCRURL == "" {
			return nil, fmt.Errorf("easyocr: url not configured: %w", errs.ErrBackendUnavailable)
		}
		return NewEasyOCR(httpClient, cfg.EasyOCRURL, cfg.Language), nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q: %w", name, errs.ErrBackendUnavailable)
	}
}

// New 根据配置构造主后端（以及可选的备用后端），并探测其可用性。
func New(ctx context.Context, cfg config.OCRConfig, runner cmdrun.Runner, httpClient *http.Client, opts ...Option) (*Adapter, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	primary, err := NewBackend(cfg.Engine, cfg, runner, httpClient)
	if err != nil {
		return nil, err
	}
	var fallback Backend
	if cfg.FallbackEngine != "" {
		fallback, err = NewBackend(cfg.FallbackEngine, cfg, runner, httpClient)
		if err != nil {
			return nil, err
		}
	}
	opts = append([]Option{WithDPI(cfg.DPI), WithTempDir(cfg.TempDir)}, opts...)
	return NewAdapter(ctx, primary, fallback, opts...)
}

// NewAdapter 探测 primary；不可用时只会切换到显式给出的 fallback，
// 两者都不可用则返回 errs.ErrBackendUnavailable。
func NewAdapter(ctx context.Context, primary, fallback Backend, opts ...Option) (*Adapter, error) {
	version, err := primary.Version(ctx)
	if err != nil {
		if fallback == nil {
			return nil, fmt.Errorf("ocr engine %s: %w: %v", primary.Name(), errs.ErrBackendUnavailable, err)
		}
		log.Warnf("[OCR] 引擎 %s 不可用 (%v)，切换到备用引擎 %s", primary.Name(), err, fallback.Name())
		version, err = fallback.Version(ctx)
		if err != nil {
			return nil, fmt.Errorf("ocr engine %s: %w: %v", fallback.Name(), errs.ErrBackendUnavailable, err)
		}
		primary = fallback
	}

	a := &Adapter{backend: primary, version: version, dpi: defaultDPI}
	for _, opt := range opts {
		opt(a)
	}
	log.Infof("[OCR] 使用引擎 %s (%s)", a.backend.Name(), a.version)
	return a, nil
}

// Engine 返回当前生效的后端名称。
func (a *Adapter) Engine() string { return a.backend.Name() }

// EngineVersion 返回启动探测得到的版本描述。
func (a *Adapter) EngineVersion() string { return a.version }

// Supports 判断文件类型是否可以 OCR。
func Supports(kind string) bool {
	switch normalizeKind(kind) {
	case "jpg", "jpeg", "png", "pdf":
		return true
	}
	return false
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(kind), "."))
}

// Recognize 识别 path 处的图片或 PDF。
func (a *Adapter) Recognize(ctx context.Context, path, kind string) (Result, error) {
	switch normalizeKind(kind) {
	case "jpg", "jpeg", "png":
		page, err := a.backend.RecognizeImage(ctx, path)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: page.Text, Confidence: page.Confidence, Pages: 1}, nil
	case "pdf":
		return a.recognizePDF(ctx, path)
	default:
		return Result{}, fmt.Errorf("ocr %q: %w", kind, errs.ErrUnsupportedFormat)
	}
}

// PageSeparator 是多页 PDF 中第 n 页（从 1 开始）前插入的分隔行。
func PageSeparator(n int) string {
	return fmt.Sprintf("\n--- Trang %d ---\n", n)
}

func (a *Adapter) recognizePDF(ctx context.Context, path string) (Result, error) {
	if a.raster == nil {
		return Result{}, fmt.Errorf("pdf rasterizer not configured: %w", errs.ErrBackendUnavailable)
	}
	doc, err := a.raster.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", errs.ErrCorruptFile, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n <= 0 {
		return Result{}, nil
	}

	var (
		b   strings.Builder
		sum float64
	)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		page, err := a.recognizePage(ctx, doc, i)
		if err != nil {
			return Result{}, fmt.Errorf("page %d: %w", i+1, err)
		}
		b.WriteString(PageSeparator(i + 1))
		b.WriteString(page.Text)
		b.WriteString("\n")
		sum += page.Confidence
	}
	log.Debugf("[OCR] %s 共识别 %d 页", path, n)
	return Result{
		Text:       strings.TrimSpace(b.String()),
		Confidence: sum / float64(n),
		Pages:      n,
	}, nil
}

// recognizePage 把单页渲染成临时 PNG，识别后立即删除。
func (a *Adapter) recognizePage(ctx context.Context, doc PageSource, index int) (PageResult, error) {
	img, err := doc.RenderPNG(index, a.dpi)
	if err != nil {
		return PageResult{}, fmt.Errorf("%w: render: %v", errs.ErrCorruptFile, err)
	}

	f, err := os.CreateTemp(a.tempDir, "ocr-page-*.png")
	if err != nil {
		return PageResult{}, err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(img); err != nil {
		f.Close()
		return PageResult{}, err
	}
	if err := f.Close(); err != nil {
		return PageResult{}, err
	}
	return a.backend.RecognizeImage(ctx, f.Name())
}

// mean 返回保留项的平均值，没有保留项时为 0。
func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
