package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nhdandz/SmartDoc/pkg/cmdrun"
)

// MinWordConfidence 是 tesseract 单词置信度（0..100）的保留阈值，严格大于才保留。
const MinWordConfidence = 30

// tsv 列: level page_num block_num par_num line_num word_num left top width height conf text
const (
	tsvColumns   = 12
	tsvLevelWord = "5"
	tsvConfCol   = 10
	tsvTextCol   = 11
)

// Tesseract 通过本地 tesseract 命令行识别图片。
type Tesseract struct {
	runner cmdrun.Runner
	bin    string
	lang   string
}

// NewTesseract 创建 tesseract 后端。
func NewTesseract(runner cmdrun.Runner, bin, lang string) *Tesseract {
	if runner == nil {
		runner = cmdrun.Exec{}
	}
	if bin == "" {
		bin = "tesseract"
	}
	if lang == "" {
		lang = "vie+eng"
	}
	return &Tesseract{runner: runner, bin: bin, lang: lang}
}

func (t *Tesseract) Name() string { return EngineTesseract }

// Version 运行 `tesseract --version`，返回第一行输出。
func (t *Tesseract) Version(ctx context.Context) (string, error) {
	out, err := t.runner.Run(ctx, t.bin, "--version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if line = strings.TrimSpace(line); line == "" {
		return EngineTesseract, nil
	}
	return line, nil
}

func (t *Tesseract) RecognizeImage(ctx context.Context, imagePath string) (PageResult, error) {
	out, err := t.runner.Run(ctx, t.bin, imagePath, "stdout", "-l", t.lang, "tsv")
	if err != nil {
		return PageResult{}, fmt.Errorf("tesseract: %w", err)
	}
	return parseTSV(out), nil
}

// parseTSV 保留 conf > MinWordConfidence 的单词，按出现顺序以空格连接，
// 置信度为保留单词的平均值 / 100。
func parseTSV(out []byte) PageResult {
	var (
		words []string
		sum   float64
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < tsvColumns || cols[0] != tsvLevelWord {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[tsvConfCol]), 64)
		if err != nil || conf <= MinWordConfidence {
			continue
		}
		word := strings.TrimSpace(cols[tsvTextCol])
		if word == "" {
			continue
		}
		words = append(words, word)
		sum += conf
	}
	if len(words) == 0 {
		return PageResult{}
	}
	return PageResult{
		Text:       strings.Join(words, " "),
		Confidence: mean(sum, len(words)) / 100,
	}
}
