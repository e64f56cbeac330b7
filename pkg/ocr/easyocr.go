package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MinDetectionConfidence 是 easyocr 检测结果（0..1）的保留阈值，严格大于才保留。
const MinDetectionConfidence = 0.3

// EasyOCR 调用一个远程 easyocr 识别服务。
type EasyOCR struct {
	baseURL string
	langs   []string
	http    *http.Client
}

type easyOCRDetection struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type easyOCRResponse struct {
	Results []easyOCRDetection `json:"results"`
}

type easyOCRHealth struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// NewEasyOCR 创建 easyocr 后端。lang 使用 tesseract 语言写法（如 vie+eng）。
func NewEasyOCR(httpClient *http.Client, baseURL, lang string) *EasyOCR {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &EasyOCR{
		baseURL: strings.TrimRight(baseURL, "/"),
		langs:   easyOCRLangs(lang),
		http:    httpClient,
	}
}

// easyOCRLangs 把 "vie+eng" 转成 ["vi", "en"]。
func easyOCRLangs(lang string) []string {
	codes := map[string]string{"vie": "vi", "eng": "en"}
	var out []string
	for _, l := range strings.Split(lang, "+") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if c, ok := codes[l]; ok {
			l = c
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return []string{"vi", "en"}
	}
	return out
}

func (e *EasyOCR) Name() string { return EngineEasyOCR }

// Version 请求 GET {base}/health。
func (e *EasyOCR) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("easyocr health: status %d", resp.StatusCode)
	}
	var h easyOCRHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil || h.Version == "" {
		return EngineEasyOCR, nil
	}
	return EngineEasyOCR + " " + h.Version, nil
}

func (e *EasyOCR) RecognizeImage(ctx context.Context, imagePath string) (PageResult, error) {
	body, contentType, err := e.buildForm(imagePath)
	if err != nil {
		return PageResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/readtext", body)
	if err != nil {
		return PageResult{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.http.Do(req)
	if err != nil {
		return PageResult{}, fmt.Errorf("easyocr: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return PageResult{}, fmt.Errorf("easyocr: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed easyOCRResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return PageResult{}, fmt.Errorf("easyocr: decode response: %w", err)
	}
	return filterDetections(parsed.Results), nil
}

func (e *EasyOCR) buildForm(imagePath string) (io.Reader, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("langs", strings.Join(e.langs, ",")); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func filterDetections(dets []easyOCRDetection) PageResult {
	var (
		texts []string
		sum   float64
	)
	for _, d := range dets {
		text := strings.TrimSpace(d.Text)
		if text == "" || d.Confidence <= MinDetectionConfidence {
			continue
		}
		texts = append(texts, text)
		sum += d.Confidence
	}
	if len(texts) == 0 {
		return PageResult{}
	}
	return PageResult{Text: strings.Join(texts, " "), Confidence: mean(sum, len(texts))}
}
