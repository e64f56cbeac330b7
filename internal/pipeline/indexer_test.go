package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhdandz/SmartDoc/pkg/memindex"
)

var fullCaps = Capabilities{HasVectorIndex: true, HasEmbeddings: true, HasLanguageModel: true}

func TestIndexer_SkipsWithoutCapabilities(t *testing.T) {
	for _, caps := range []Capabilities{{}, {HasVectorIndex: true}, {HasEmbeddings: true}} {
		emb := &fakeEmbedder{}
		idx := memindex.New()
		x := NewIndexer(caps, NewChunker(0, 0), emb, idx)

		report, err := x.Index(context.Background(), IndexRequest{DocumentID: "d1", Text: "nội dung"})

		require.NoError(t, err)
		assert.True(t, report.Skipped)
		assert.Zero(t, emb.calls())
		assert.Zero(t, idx.Len())
	}
}

func TestIndexer_FragmentsAreContiguous(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := memindex.New()
	x := NewIndexer(fullCaps, NewChunker(0, 0), emb, idx)

	report, err := x.Index(context.Background(), IndexRequest{
		DocumentID: "d1",
		Title:      "hop-dong.pdf",
		Text:       strings.Repeat("a", 2600),
	})

	require.NoError(t, err)
	assert.Equal(t, 3, report.Fragments)
	assert.Equal(t, 3, emb.calls())

	frags, err := idx.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, frags, 3)
	for i, f := range frags {
		assert.Equal(t, "d1", f.DocumentID)
		assert.Equal(t, i, f.ChunkIndex)
		assert.Equal(t, "hop-dong.pdf", f.Title)
	}
}

func TestIndexer_IndexIsAdditiveReindexPurges(t *testing.T) {
	idx := memindex.New()
	x := NewIndexer(fullCaps, NewChunker(0, 0), &fakeEmbedder{}, idx)
	ctx := context.Background()

	_, err := x.Index(ctx, IndexRequest{DocumentID: "d1", Text: strings.Repeat("b", 2600)})
	require.NoError(t, err)
	_, err = x.Index(ctx, IndexRequest{DocumentID: "d2", Text: "khác"})
	require.NoError(t, err)
	require.Equal(t, 4, idx.Len())

	report, err := x.Reindex(ctx, IndexRequest{DocumentID: "d1", Text: "ngắn"})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Fragments)
	assert.Equal(t, 2, idx.Len())
}

func TestIndexer_EmbeddingErrorLeavesIndexUntouched(t *testing.T) {
	idx := memindex.New()
	x := NewIndexer(fullCaps, NewChunker(0, 0), &fakeEmbedder{err: errors.New("quota")}, idx)

	_, err := x.Index(context.Background(), IndexRequest{DocumentID: "d1", Text: "xin chào"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Zero(t, idx.Len())
}

func TestIndexer_EmptyText(t *testing.T) {
	emb := &fakeEmbedder{}
	x := NewIndexer(fullCaps, NewChunker(0, 0), emb, memindex.New())

	report, err := x.Index(context.Background(), IndexRequest{DocumentID: "d1", Text: "  \n "})

	require.NoError(t, err)
	assert.Zero(t, report.Fragments)
	assert.False(t, report.Skipped)
	assert.Zero(t, emb.calls())
}
