package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/pipeline"
	"github.com/nhdandz/SmartDoc/internal/service"
	"github.com/nhdandz/SmartDoc/pkg/llm"
	"github.com/nhdandz/SmartDoc/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOCR struct {
	submitted service.OCRSubmitRequest
	body      string
	err       error
	job       *model.RecognitionJob
	limit     int
}

func (f *fakeOCR) Submit(_ context.Context, req service.OCRSubmitRequest) (*model.RecognitionJob, error) {
	f.submitted = req
	b, _ := io.ReadAll(req.Reader)
	f.body = string(b)
	if f.err != nil {
		return nil, f.err
	}
	return &model.RecognitionJob{ID: "job-1", OwnerID: req.OwnerID, FileName: req.FileName, Status: model.JobProcessing}, nil
}

func (f *fakeOCR) GetJob(_ context.Context, id, ownerID string) (*model.RecognitionJob, error) {
	if f.job == nil || f.job.ID != id || f.job.OwnerID != ownerID {
		return nil, errs.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeOCR) ListJobs(_ context.Context, ownerID string, limit int) ([]model.RecognitionJobSummary, error) {
	f.limit = limit
	if f.job == nil || f.job.OwnerID != ownerID {
		return nil, nil
	}
	return []model.RecognitionJobSummary{f.job.Summary()}, nil
}

func (f *fakeOCR) CorrectText(_ context.Context, id, ownerID, text string) (*model.RecognitionJob, error) {
	job, err := f.GetJob(context.Background(), id, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobCompleted {
		return nil, errs.ErrJobNotCompleted
	}
	job.Text = text
	return job, nil
}

type fakeDocuments struct {
	err error
	doc *model.SourceDocument
}

func (f *fakeDocuments) Ingest(_ context.Context, req service.DocumentUploadRequest) (*model.SourceDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(req.Reader)
	return &model.SourceDocument{ID: "doc-1", OwnerID: req.OwnerID, Name: req.FileName, ExtractedText: string(b), IsProcessed: true}, nil
}

func (f *fakeDocuments) GetContent(_ context.Context, id, ownerID string) (*model.SourceDocument, error) {
	if f.doc == nil || f.doc.ID != id || f.doc.OwnerID != ownerID {
		return nil, errs.ErrNotFound
	}
	return f.doc, nil
}

type fakeQA struct {
	mu      sync.Mutex
	asked   []service.AskRequest
	chunks  []string
	err     error
	rated   int
	created string
}

func (f *fakeQA) result(req service.AskRequest) *service.AskResult {
	return &service.AskResult{
		SessionID: "s-1",
		Turn: model.ConversationTurn{
			ID:        "t-1",
			Role:      model.RoleAnswer,
			Content:   "answer",
			Citations: []model.Citation{{Title: "Hợp đồng", Excerpt: "...", DocumentID: "d-1"}},
		},
		Mode: pipeline.ModeKeyword,
	}
}

func (f *fakeQA) Ask(_ context.Context, req service.AskRequest) (*service.AskResult, error) {
	f.mu.Lock()
	f.asked = append(f.asked, req)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.result(req), nil
}

func (f *fakeQA) AskStream(ctx context.Context, req service.AskRequest, w llm.MessageWriter) (*service.AskResult, error) {
	if _, err := f.Ask(ctx, req); err != nil {
		return nil, err
	}
	for _, c := range f.chunks {
		if err := w.WriteMessage(websocket.TextMessage, []byte(c)); err != nil {
			return nil, err
		}
	}
	return f.result(req), nil
}

func (f *fakeQA) CreateSession(_ context.Context, ownerID, title string) (*model.Conversation, error) {
	f.created = title
	return &model.Conversation{ID: "s-new", OwnerID: ownerID, Title: title}, nil
}

func (f *fakeQA) GetSession(_ context.Context, id, ownerID string) (*model.Conversation, error) {
	if id != "s-1" || ownerID != "alice" {
		return nil, errs.ErrNotFound
	}
	return &model.Conversation{ID: id, OwnerID: ownerID}, nil
}

func (f *fakeQA) ListSessions(_ context.Context, ownerID string) ([]model.Conversation, error) {
	return []model.Conversation{{ID: "s-1", OwnerID: ownerID}}, nil
}

func (f *fakeQA) RateTurn(_ context.Context, _, _, _ string, rating int) error {
	if rating < 1 || rating > 5 {
		return errs.ErrInvalidInput
	}
	f.rated = rating
	return nil
}

type fakeSearch struct {
	req      service.SearchRequest
	fragment string
	err      error
}

func (f *fakeSearch) Search(_ context.Context, req service.SearchRequest) (*service.SearchResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.SearchResult{
		Results: []service.SearchHit{{ID: "d-1", Title: "hop-dong.pdf", Highlights: []string{"thanh toán"}}},
		Total:   1,
		Page:    1,
		Limit:   20,
		Query:   req.Query,
	}, nil
}

func (f *fakeSearch) Suggestions(_ context.Context, ownerID, fragment string) ([]string, error) {
	f.fragment = fragment
	return []string{fragment + " " + ownerID}, nil
}

type fakeReprocessor struct {
	ids []string
}

func (f *fakeReprocessor) ReprocessDocuments(_ context.Context, ids []string) service.BatchReport {
	f.ids = ids
	return service.BatchReport{Processed: len(ids)}
}

type testEnv struct {
	router *gin.Engine
	jwt    *token.JWTManager
	ocr    *fakeOCR
	docs   *fakeDocuments
	qa     *fakeQA
	search *fakeSearch
	admin  *AdminHandler
	batch  *fakeReprocessor
	done   chan service.BatchReport
}

func newTestEnv() *testEnv {
	env := &testEnv{
		jwt:    token.NewJWTManager("test-secret", 1),
		ocr:    &fakeOCR{},
		docs:   &fakeDocuments{},
		qa:     &fakeQA{},
		search: &fakeSearch{},
		batch:  &fakeReprocessor{},
		done:   make(chan service.BatchReport, 1),
	}
	env.admin = NewAdminHandler(env.batch)
	env.admin.done = env.done
	env.router = NewRouter(Handlers{
		OCR:      NewOCRHandler(env.ocr, 1<<20),
		Document: NewDocumentHandler(env.docs, 1<<20),
		QA:       NewQAHandler(env.qa),
		Search:   NewSearchHandler(env.search),
		Admin:    env.admin,
	}, env.jwt)
	return env
}

func (e *testEnv) token(t *testing.T, principal, role string) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken(principal, role)
	require.NoError(t, err)
	return tok
}

// do 发送请求并解析统一响应格式。
func (e *testEnv) do(t *testing.T, req *http.Request, principal string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	return e.doAs(t, req, principal, "")
}

func (e *testEnv) doAs(t *testing.T, req *http.Request, principal, role string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if principal != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, principal, role))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
