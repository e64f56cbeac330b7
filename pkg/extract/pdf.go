package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/nhdandz/SmartDoc/internal/errs"
)

func init() {
	// 否则 pdfcpu 会在 $HOME 下创建配置目录
	api.DisableConfigDir()
}

// extractPDF 先用 pdfcpu 校验文件结构，再按页序拼接每页的纯文本。
func extractPDF(path string) (text string, err error) {
	if verr := api.ValidateFile(path, nil); verr != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrCorruptFile, verr)
	}

	// ledongthuc/pdf 遇到部分损坏的内容流会 panic
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", errs.ErrCorruptFile, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrCorruptFile, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := page.GetPlainText(nil)
		if perr != nil {
			return "", fmt.Errorf("%w: page %d: %v", errs.ErrCorruptFile, i, perr)
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return b.String(), nil
}
