package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/pkg/llm"
	"github.com/nhdandz/SmartDoc/pkg/worker"
)

// fakeEmbedder 为每段文本返回固定向量，并记录调用。
type fakeEmbedder struct {
	mu     sync.Mutex
	vector []float32
	err    error
	inputs []string
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	if f.vector == nil {
		return []float32{1, 0}, nil
	}
	return f.vector, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed-v1" }

func (f *fakeEmbedder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// fakeIndex 包装检索结果或错误，记录 Search 调用次数。
type fakeIndex struct {
	results  []model.ContextFragment
	err      error
	searches int
}

func (f *fakeIndex) Upsert(context.Context, []model.IndexFragment) error { return nil }

func (f *fakeIndex) Search(context.Context, []float32, int) ([]model.ContextFragment, error) {
	f.searches++
	return f.results, f.err
}

func (f *fakeIndex) DeleteByDocument(context.Context, string) error { return nil }

// fakeDocs 是内存中的 DocumentRepository，按插入顺序遍历。
type fakeDocs struct {
	docs      []*model.SourceDocument
	searchErr error
	keywords  []string
}

func (f *fakeDocs) add(id, owner, name, text string) {
	f.docs = append(f.docs, &model.SourceDocument{
		ID: id, OwnerID: owner, Name: name, Type: "PDF",
		ExtractedText: text, IsProcessed: strings.TrimSpace(text) != "",
	})
}

func (f *fakeDocs) Create(_ context.Context, doc *model.SourceDocument) error {
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeDocs) FindByID(_ context.Context, id string) (*model.SourceDocument, error) {
	for _, d := range f.docs {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeDocs) FindByIDs(_ context.Context, ids []string, ownerID string) ([]model.SourceDocument, error) {
	var out []model.SourceDocument
	for _, id := range ids {
		for _, d := range f.docs {
			if d.ID == id && (ownerID == "" || d.OwnerID == ownerID) {
				out = append(out, *d)
			}
		}
	}
	return out, nil
}

func (f *fakeDocs) SearchText(_ context.Context, keyword, ownerID string, limit int) ([]model.SourceDocument, error) {
	f.keywords = append(f.keywords, keyword)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []model.SourceDocument
	for _, d := range f.docs {
		if !d.IsProcessed || (ownerID != "" && d.OwnerID != ownerID) {
			continue
		}
		if strings.Contains(strings.ToLower(d.ExtractedText), keyword) {
			out = append(out, *d)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDocs) SetExtractedText(_ context.Context, id, text string) error {
	for _, d := range f.docs {
		if d.ID == id {
			d.ExtractedText = text
			d.IsProcessed = strings.TrimSpace(text) != ""
			return nil
		}
	}
	return errs.ErrNotFound
}

func (f *fakeDocs) Delete(_ context.Context, id string) error {
	for i, d := range f.docs {
		if d.ID == id {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeDocs) ListProcessedIDs(context.Context) ([]string, error) {
	var ids []string
	for _, d := range f.docs {
		if d.IsProcessed {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// fakeLLM 按 chunks 依次写出，或者返回 err。
type fakeLLM struct {
	chunks   []string
	err      error
	messages []llm.Message
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	f.messages = messages
	for _, c := range f.chunks {
		if err := w.WriteMessage(1, []byte(c)); err != nil {
			return err
		}
	}
	return f.err
}

// fakeObjects 把预置内容写入临时文件，模拟对象存储下载。
type fakeObjects struct {
	data    map[string][]byte
	fetched []string
}

func (f *fakeObjects) FetchToFile(_ context.Context, key, dir string) (string, error) {
	b, ok := f.data[key]
	if !ok {
		return "", errors.New("no such object")
	}
	path := filepath.Join(dir, "obj-"+filepath.Base(key))
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", err
	}
	f.fetched = append(f.fetched, path)
	return path, nil
}

// inlineScheduler 同步执行任务，便于断言。
type inlineScheduler struct {
	names []string
	errs  []error
}

func (s *inlineScheduler) Go(name string, fn worker.Task) error {
	s.names = append(s.names, name)
	s.errs = append(s.errs, fn(context.Background()))
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.SourceDocument{}, &model.RecognitionJob{}))
	return db
}
