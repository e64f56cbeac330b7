package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/pkg/memindex"
)

type fakeExtractor struct {
	text  string
	err   error
	paths []string
}

func (f *fakeExtractor) Extract(_ context.Context, path, _ string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	f.paths = append(f.paths, path)
	return f.text, f.err
}

func TestProcessDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("extracts missing text then indexes", func(t *testing.T) {
		docs := &fakeDocs{}
		docs.add("d1", "u1", "memo.docx", "")
		docs.docs[0].StoragePath = "documents/d1/memo.docx"
		objects := &fakeObjects{data: map[string][]byte{"documents/d1/memo.docx": []byte("zip")}}
		ext := &fakeExtractor{text: "biên bản họp"}
		idx := memindex.New()
		p := NewProcessor(docs, objects, ext, NewIndexer(fullCaps, NewChunker(0, 0), &fakeEmbedder{}, idx), t.TempDir())

		report, err := p.ProcessDocument(ctx, "d1")

		require.NoError(t, err)
		assert.Equal(t, 1, report.Fragments)
		assert.Len(t, ext.paths, 1)
		assert.NoFileExists(t, ext.paths[0])
		assert.True(t, docs.docs[0].IsProcessed)
		assert.Equal(t, "biên bản họp", docs.docs[0].ExtractedText)
		assert.Equal(t, 1, idx.Len())
	})

	t.Run("existing text skips extraction", func(t *testing.T) {
		docs := &fakeDocs{}
		docs.add("d1", "u1", "a.txt", "đã có")
		ext := &fakeExtractor{}
		p := NewProcessor(docs, &fakeObjects{}, ext, NewIndexer(fullCaps, NewChunker(0, 0), &fakeEmbedder{}, memindex.New()), t.TempDir())

		_, err := p.ProcessDocument(ctx, "d1")

		require.NoError(t, err)
		assert.Empty(t, ext.paths)
	})

	t.Run("typed extraction failure", func(t *testing.T) {
		docs := &fakeDocs{}
		docs.add("d1", "u1", "old.doc", "")
		docs.docs[0].StoragePath = "documents/d1/old.doc"
		objects := &fakeObjects{data: map[string][]byte{"documents/d1/old.doc": []byte("x")}}
		ext := &fakeExtractor{err: errs.ErrUnsupportedFormat}
		p := NewProcessor(docs, objects, ext, NewIndexer(fullCaps, NewChunker(0, 0), &fakeEmbedder{}, memindex.New()), t.TempDir())

		_, err := p.ProcessDocument(ctx, "d1")

		assert.True(t, errors.Is(err, errs.ErrUnsupportedFormat))
		assert.False(t, docs.docs[0].IsProcessed)
	})

	t.Run("missing document", func(t *testing.T) {
		p := NewProcessor(&fakeDocs{}, &fakeObjects{}, &fakeExtractor{}, NewIndexer(Capabilities{}, NewChunker(0, 0), nil, nil), t.TempDir())

		_, err := p.ProcessDocument(ctx, "nope")

		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}
