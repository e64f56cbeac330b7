package pipeline

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker 按 rune 把文本切成固定步长、带重叠的窗口。
type Chunker struct {
	size     int
	overlap  int
	lookback int
}

// NewChunker 创建分块器，参数非法时回退到 1000 / 200。
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 || overlap < 0 || overlap >= size {
		size, overlap = DefaultChunkSize, DefaultChunkOverlap
	}
	return &Chunker{size: size, overlap: overlap, lookback: overlap / 2}
}

func (c *Chunker) step() int { return c.size - c.overlap }

// Count 返回长度为 n 个 rune 的文本会产生的窗口数。
func (c *Chunker) Count(n int) int {
	if n <= 0 {
		return 0
	}
	if n <= c.size {
		return 1
	}
	return (n - c.overlap + c.step() - 1) / c.step()
}

// Split 切分文本。第 i 个窗口从 i*step 开始；除最后一个窗口外，
// 窗口末尾会在最后 lookback 个 rune 内回退到段落、句子或空白边界。
// 空文本或纯空白文本返回 nil。
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := c.Count(len(runes))
	chunks := make([]string, 0, n)
	for i := 0; i < n; i++ {
		start := i * c.step()
		end := start + c.size
		if end >= len(runes) || i == n-1 {
			end = len(runes)
		} else {
			end = c.boundary(runes, end)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// boundary 在 (end-lookback, end] 内寻找最靠后的切分点，优先段落，其次句末，最后空白。
func (c *Chunker) boundary(runes []rune, end int) int {
	lo := end - c.lookback
	if lo < 1 {
		lo = 1
	}
	best := [3]int{-1, -1, -1}
	for j := end; j > lo; j-- {
		prev := runes[j-1]
		switch {
		case best[0] < 0 && prev == '\n' && j >= 2 && runes[j-2] == '\n':
			best[0] = j
		case best[1] < 0 && isSentenceEnd(prev) && (j == len(runes) || unicode.IsSpace(runes[j])):
			best[1] = j
		case best[2] < 0 && unicode.IsSpace(prev):
			best[2] = j
		}
		if best[0] >= 0 {
			break
		}
	}
	for _, b := range best {
		if b > 0 {
			return b
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
