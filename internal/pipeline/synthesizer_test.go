package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/model"
)

func frag(id, title, content string) model.ContextFragment {
	return model.ContextFragment{DocumentID: id, Title: title, Content: content}
}

// runeCounter 用字符数近似 token 数。
type runeCounter struct{}

func (runeCounter) Count(s string) int { return utf8.RuneCountInString(s) }

type recordingWriter struct {
	frames []string
	err    error
}

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, string(data))
	return nil
}

func TestSynthesize_WithoutLanguageModel(t *testing.T) {
	s := NewSynthesizer(Capabilities{HasVectorIndex: true}, nil)

	t.Run("with fragments", func(t *testing.T) {
		ans, err := s.Synthesize(context.Background(), "hỏi", []model.ContextFragment{frag("d1", "hop-dong.pdf", "nội dung")})

		require.NoError(t, err)
		assert.False(t, ans.Synthesized)
		assert.Contains(t, ans.Content, "hop-dong.pdf")
		assert.Contains(t, ans.Content, synthesisUnavailable)
		require.Len(t, ans.Citations, 1)
		assert.Equal(t, "d1", ans.Citations[0].DocumentID)
	})

	t.Run("without fragments", func(t *testing.T) {
		ans, err := s.Synthesize(context.Background(), "hỏi", nil)

		require.NoError(t, err)
		assert.False(t, ans.Synthesized)
		assert.Contains(t, ans.Content, noRelevantInfo)
		assert.Contains(t, ans.Content, synthesisUnavailable)
		assert.Empty(t, ans.Citations)
	})
}

func TestSynthesize_NoFragmentsSkipsModel(t *testing.T) {
	client := &fakeLLM{chunks: []string{"không được gọi"}}
	s := NewSynthesizer(fullCaps, client)

	ans, err := s.Synthesize(context.Background(), "hỏi", nil)

	require.NoError(t, err)
	assert.Equal(t, DefaultNoResultText, ans.Content)
	assert.NotContains(t, ans.Content, synthesisUnavailable)
	assert.Nil(t, client.messages)
	assert.False(t, ans.Synthesized)
}

func TestSynthesize_GroundedAnswer(t *testing.T) {
	client := &fakeLLM{chunks: []string{"Xin ", "chào"}}
	s := NewSynthesizer(fullCaps, client)
	long := strings.Repeat("x", 1500)

	ans, err := s.Synthesize(context.Background(), "Điều khoản thanh toán?", []model.ContextFragment{
		frag("d1", "a.pdf", long),
		frag("d2", "b.pdf", "ngắn"),
	})

	require.NoError(t, err)
	assert.True(t, ans.Synthesized)
	assert.Equal(t, "Xin chào", ans.Content)
	require.Len(t, ans.Citations, 2)
	assert.Equal(t, strings.Repeat("x", 200)+"...", ans.Citations[0].Excerpt)
	assert.Equal(t, "ngắn", ans.Citations[1].Excerpt)

	require.Len(t, client.messages, 1)
	prompt := client.messages[0].Content
	assert.Contains(t, prompt, "\n\n--- a.pdf ---\n"+strings.Repeat("x", 1000)+"\n\n--- b.pdf ---\nngắn")
	assert.NotContains(t, prompt, strings.Repeat("x", 1001))
	assert.Contains(t, prompt, "Câu hỏi của người dùng: Điều khoản thanh toán?")
}

func TestSynthesize_ModelFailureApologises(t *testing.T) {
	client := &fakeLLM{chunks: []string{"một phần"}, err: errors.New("upstream 502")}
	s := NewSynthesizer(fullCaps, client)

	ans, err := s.Synthesize(context.Background(), "hỏi", []model.ContextFragment{frag("d1", "a.pdf", "nội dung")})

	require.NoError(t, err)
	assert.False(t, ans.Synthesized)
	assert.Equal(t, apologyText, ans.Content)
	assert.Len(t, ans.Citations, 1)
}

func TestSynthesize_TokenBudgetDropsLaterFragments(t *testing.T) {
	client := &fakeLLM{chunks: []string{"ok"}}
	s := NewSynthesizer(fullCaps, client, WithTokenBudget(runeCounter{}, 50))

	ans, err := s.Synthesize(context.Background(), "hỏi", []model.ContextFragment{
		frag("d1", "a.pdf", strings.Repeat("a", 100)),
		frag("d2", "b.pdf", "b"),
	})

	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "d1", ans.Citations[0].DocumentID)
	assert.NotContains(t, client.messages[0].Content, "b.pdf")
}

func TestSynthesize_PromptOverride(t *testing.T) {
	client := &fakeLLM{chunks: []string{"ok"}}
	s := NewSynthesizer(fullCaps, client, WithPrompt(config.LLMPromptConfig{
		Template:     "Q={question} C={context}",
		NoResultText: "trống",
	}))

	_, err := s.Synthesize(context.Background(), "gì", []model.ContextFragment{frag("d1", "t", "c")})
	require.NoError(t, err)
	assert.Equal(t, "Q=gì C=\n\n--- t ---\nc", client.messages[0].Content)

	ans, err := s.Synthesize(context.Background(), "gì", nil)
	require.NoError(t, err)
	assert.Equal(t, "trống", ans.Content)
}

func TestSynthesizeStream(t *testing.T) {
	t.Run("forwards chunks", func(t *testing.T) {
		w := &recordingWriter{}
		s := NewSynthesizer(fullCaps, &fakeLLM{chunks: []string{"a", "b", "c"}})

		ans, err := s.SynthesizeStream(context.Background(), "hỏi", []model.ContextFragment{frag("d1", "t", "c")}, w)

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, w.frames)
		assert.Equal(t, "abc", ans.Content)
	})

	t.Run("fallback is written as one frame", func(t *testing.T) {
		w := &recordingWriter{}
		s := NewSynthesizer(Capabilities{}, nil)

		ans, err := s.SynthesizeStream(context.Background(), "hỏi", nil, w)

		require.NoError(t, err)
		assert.Equal(t, []string{ans.Content}, w.frames)
	})

	t.Run("writer failure is returned", func(t *testing.T) {
		w := &recordingWriter{err: errors.New("broken pipe")}
		s := NewSynthesizer(fullCaps, &fakeLLM{chunks: []string{"a"}})

		_, err := s.SynthesizeStream(context.Background(), "hỏi", []model.ContextFragment{frag("d1", "t", "c")}, w)

		assert.EqualError(t, err, "broken pipe")
	})
}
