// Package fitzraster 使用 MuPDF (go-fitz) 把 PDF 页面渲染成 PNG。
package fitzraster

import (
	"github.com/gen2brain/go-fitz"

	"github.com/nhdandz/SmartDoc/pkg/ocr"
)

// Rasterizer 实现 ocr.Rasterizer。
type Rasterizer struct{}

var _ ocr.Rasterizer = Rasterizer{}

func (Rasterizer) Open(path string) (ocr.PageSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &document{doc: doc}, nil
}

type document struct {
	doc *fitz.Document
}

func (d *document) NumPage() int { return d.doc.NumPage() }

func (d *document) RenderPNG(page, dpi int) ([]byte, error) {
	return d.doc.ImagePNG(page, float64(dpi))
}

func (d *document) Close() error { return d.doc.Close() }
