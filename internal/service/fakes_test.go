package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/pkg/tasks"
	"github.com/nhdandz/SmartDoc/pkg/worker"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.SourceDocument{}, &model.RecognitionJob{}, &model.SearchHistory{}))
	return db
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	removed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = buf.Bytes()
	return key, nil
}

func (s *fakeStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.removed = append(s.removed, key)
	return nil
}

type fakeDispatcher struct {
	tasks []tasks.RecognitionTask
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, task tasks.RecognitionTask) error {
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

type fakeEngine struct{}

func (fakeEngine) Engine() string        { return "tesseract" }
func (fakeEngine) EngineVersion() string { return "tesseract 5.3.0" }

type inlineScheduler struct {
	names []string
	errs  []error
}

func (s *inlineScheduler) Go(name string, fn worker.Task) error {
	s.names = append(s.names, name)
	s.errs = append(s.errs, fn(context.Background()))
	return nil
}

type fakeEmbedder struct {
	failOn string
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if f.failOn != "" && bytes.Contains([]byte(text), []byte(f.failOn)) {
		return nil, errors.New("embedding rejected")
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

// memConversations 是内存中的 ConversationRepository。
type memConversations struct {
	mu    sync.Mutex
	convs map[string]model.Conversation
	saves int
}

func newMemConversations() *memConversations {
	return &memConversations{convs: map[string]model.Conversation{}}
}

func (m *memConversations) Save(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(conv)
	return nil
}

func (m *memConversations) store(conv *model.Conversation) {
	m.saves++
	cp := *conv
	cp.Turns = append([]model.ConversationTurn(nil), conv.Turns...)
	m.convs[conv.ID] = cp
}

func (m *memConversations) Get(_ context.Context, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	conv.Turns = append([]model.ConversationTurn(nil), conv.Turns...)
	return &conv, nil
}

func (m *memConversations) Update(_ context.Context, id string, fn func(conv *model.Conversation) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return errs.ErrNotFound
	}
	conv.Turns = append([]model.ConversationTurn(nil), conv.Turns...)
	if err := fn(&conv); err != nil {
		return err
	}
	m.store(&conv)
	return nil
}

func (m *memConversations) ListByOwner(_ context.Context, ownerID string) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Conversation
	for _, c := range m.convs {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}
