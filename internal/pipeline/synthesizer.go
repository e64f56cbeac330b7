package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/pkg/llm"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/metrics"
)

const (
	contextRunes = 1000
	excerptRunes = 200
)

// DefaultPromptTemplate 是内置的越南语提示模板，{context} 与 {question} 会被替换。
const DefaultPromptTemplate = `Bạn là một trợ lý AI thông minh, giúp trả lời câu hỏi dựa trên các tài liệu được cung cấp.

Ngữ cảnh từ các tài liệu:
{context}

Câu hỏi của người dùng: {question}

Hướng dẫn:
1. Trả lời câu hỏi dựa trên thông tin trong các tài liệu được cung cấp
2. Nếu không tìm thấy thông tin liên quan, hãy nói rõ điều đó
3. Trả lời bằng tiếng Việt, rõ ràng và dễ hiểu
4. Nếu có thể, hãy trích dẫn tên tài liệu chứa thông tin

Câu trả lời:
`

// 固定文案。降级回答必须说明合成不可用。
const (
	DefaultNoResultText  = "Không tìm thấy tài liệu nào liên quan đến câu hỏi của bạn. Hãy thử diễn đạt lại câu hỏi hoặc tải lên tài liệu phù hợp."
	synthesisUnavailable = "Chức năng tổng hợp câu trả lời chưa khả dụng vì chưa cấu hình mô hình ngôn ngữ."
	noRelevantInfo       = "Không tìm thấy thông tin liên quan trong các tài liệu."
	apologyText          = "Xin lỗi, tôi không thể tạo câu trả lời cho câu hỏi này lúc này. Vui lòng thử lại sau."
)

// Answer 是合成结果。Synthesized 为 false 表示未经模型生成。
type Answer struct {
	Content     string           `json:"content"`
	Citations   []model.Citation `json:"citations"`
	Synthesized bool             `json:"synthesized"`
}

// Synthesizer 基于检索到的片段生成有依据的回答。
type Synthesizer struct {
	caps      Capabilities
	client    llm.Client
	template  string
	noResult  string
	counter   llm.TokenCounter
	maxTokens int
}

// SynthesizerOption 配置 Synthesizer。
type SynthesizerOption func(*Synthesizer)

// WithPrompt 覆盖模板与无结果文案，空字段保留默认值。
func WithPrompt(p config.LLMPromptConfig) SynthesizerOption {
	return func(s *Synthesizer) {
		if strings.TrimSpace(p.Template) != "" {
			s.template = p.Template
		}
		if strings.TrimSpace(p.NoResultText) != "" {
			s.noResult = p.NoResultText
		}
	}
}

// WithTokenBudget 限制上下文的 token 数。maxTokens <= 0 或 counter 为 nil 时不限制。
func WithTokenBudget(counter llm.TokenCounter, maxTokens int) SynthesizerOption {
	return func(s *Synthesizer) {
		s.counter = counter
		s.maxTokens = maxTokens
	}
}

// NewSynthesizer 创建 Synthesizer。client 在未配置模型时可以为 nil。
func NewSynthesizer(caps Capabilities, client llm.Client, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		caps:     caps,
		client:   client,
		template: DefaultPromptTemplate,
		noResult: DefaultNoResultText,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize 返回完整回答。模型调用失败只记录日志，不向上返回错误。
func (s *Synthesizer) Synthesize(ctx context.Context, question string, fragments []model.ContextFragment) (Answer, error) {
	contextText, citations := s.buildContext(fragments)
	if ans, ok := s.preset(citations); ok {
		return ans, nil
	}

	text, err := llm.Complete(ctx, s.client, s.messages(contextText, question), nil)
	if err != nil {
		log.Errorf("[Synthesizer] 调用语言模型失败: %v", err)
		metrics.AnswersTotal.WithLabelValues("error").Inc()
		return Answer{Content: apologyText, Citations: citations}, nil
	}
	metrics.AnswersTotal.WithLabelValues("synthesized").Inc()
	return Answer{Content: text, Citations: citations, Synthesized: true}, nil
}

// SynthesizeStream 把回答分块写入 w，并返回完整 Answer。
// 只有 w 写入失败（例如连接已断开）时才返回错误。
func (s *Synthesizer) SynthesizeStream(ctx context.Context, question string, fragments []model.ContextFragment, w llm.MessageWriter) (Answer, error) {
	contextText, citations := s.buildContext(fragments)
	tw := &teeWriter{dst: w}
	if ans, ok := s.preset(citations); ok {
		return ans, tw.writeAll(ans.Content)
	}

	if err := s.client.StreamChatMessages(ctx, s.messages(contextText, question), nil, tw); err != nil {
		if tw.err != nil {
			return Answer{}, tw.err
		}
		log.Errorf("[Synthesizer] 调用语言模型失败: %v", err)
		metrics.AnswersTotal.WithLabelValues("error").Inc()
		// 已经流出的部分内容不计入回答
		return Answer{Content: apologyText, Citations: citations}, tw.writeAll(apologyText)
	}
	metrics.AnswersTotal.WithLabelValues("synthesized").Inc()
	return Answer{Content: tw.b.String(), Citations: citations, Synthesized: true}, nil
}

// preset 返回不需要调用模型的固定回答。
func (s *Synthesizer) preset(citations []model.Citation) (Answer, bool) {
	if !s.caps.HasLanguageModel || s.client == nil {
		metrics.AnswersTotal.WithLabelValues("fallback").Inc()
		return Answer{Content: fallbackAnswer(citations), Citations: citations}, true
	}
	if len(citations) == 0 {
		metrics.AnswersTotal.WithLabelValues("no_result").Inc()
		return Answer{Content: s.noResult, Citations: citations}, true
	}
	return Answer{}, false
}

func (s *Synthesizer) messages(contextText, question string) []llm.Message {
	return []llm.Message{{Role: "user", Content: s.prompt(contextText, question)}}
}

func (s *Synthesizer) prompt(contextText, question string) string {
	return strings.NewReplacer("{context}", contextText, "{question}", question).Replace(s.template)
}

// buildContext 返回上下文文本和对应的引用。超出 token 预算时，第一个之后的片段被整体丢弃。
func (s *Synthesizer) buildContext(fragments []model.ContextFragment) (string, []model.Citation) {
	var b strings.Builder
	citations := make([]model.Citation, 0, len(fragments))
	for i, f := range fragments {
		section := fmt.Sprintf("\n\n--- %s ---\n%s", f.Title, truncateRunes(f.Content, contextRunes))
		if i > 0 && s.overBudget(b.String()+section) {
			log.Infof("[Synthesizer] 上下文超出 %d tokens，丢弃剩余 %d 个片段", s.maxTokens, len(fragments)-i)
			break
		}
		b.WriteString(section)
		citations = append(citations, model.Citation{
			Title:      f.Title,
			Excerpt:    excerpt(f.Content),
			DocumentID: f.DocumentID,
		})
	}
	return b.String(), citations
}

func (s *Synthesizer) overBudget(text string) bool {
	if s.counter == nil || s.maxTokens <= 0 {
		return false
	}
	return s.counter.Count(text) > s.maxTokens
}

func fallbackAnswer(citations []model.Citation) string {
	if len(citations) == 0 {
		return noRelevantInfo + " " + synthesisUnavailable
	}
	return fmt.Sprintf("Thông tin liên quan có trong tài liệu \"%s\". %s", citations[0].Title, synthesisUnavailable)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes]) + "..."
}

// teeWriter 转发分块并累积全文，同时记住下游写入错误。
type teeWriter struct {
	dst llm.MessageWriter
	b   strings.Builder
	err error
}

func (t *teeWriter) WriteMessage(messageType int, data []byte) error {
	if err := t.dst.WriteMessage(messageType, data); err != nil {
		t.err = err
		return err
	}
	t.b.Write(data)
	return nil
}

func (t *teeWriter) writeAll(text string) error {
	return t.WriteMessage(websocket.TextMessage, []byte(text))
}
