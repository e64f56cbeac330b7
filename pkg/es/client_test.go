package es

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/model"
)

// fakeES 模拟 Elasticsearch 的几个接口，并记录收到的请求体。
type fakeES struct {
	indexExists bool
	created     string
	bulkLines   []string
	searchBody  map[string]interface{}
	deleteBody  string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/fragments":
		if f.indexExists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/fragments":
		f.created = string(body)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		sc := bufio.NewScanner(strings.NewReader(string(body)))
		for sc.Scan() {
			f.bulkLines = append(f.bulkLines, sc.Text())
		}
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_ = json.Unmarshal(body, &f.searchBody)
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_score":0.92,"_source":{"document_id":"d1","chunk_index":2,"text_content":"hợp đồng","title":"hd.pdf","doc_type":"PDF"}}
		]}}`))
	case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
		f.deleteBody = string(body)
		_, _ = w.Write([]byte(`{"deleted":3}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestIndex(t *testing.T, fake *fakeES) *FragmentIndex {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	x, err := NewFragmentIndex(context.Background(), client, "fragments", 4)
	require.NoError(t, err)
	return x
}

func TestNewFragmentIndex_CreatesMapping(t *testing.T) {
	fake := &fakeES{}
	newTestIndex(t, fake)

	assert.Contains(t, fake.created, `"dims": 4`)
	assert.Contains(t, fake.created, `"dense_vector"`)

	existing := &fakeES{indexExists: true}
	newTestIndex(t, existing)
	assert.Empty(t, existing.created)
}

func TestUpsert_OneBulkRequest(t *testing.T) {
	fake := &fakeES{indexExists: true}
	x := newTestIndex(t, fake)

	err := x.Upsert(context.Background(), []model.IndexFragment{
		{ID: "d1_0", DocumentID: "d1", ChunkIndex: 0, Text: "a", Vector: []float32{1, 0, 0, 0}},
		{ID: "d1_1", DocumentID: "d1", ChunkIndex: 1, Text: "b", Vector: []float32{0, 1, 0, 0}},
	})

	require.NoError(t, err)
	require.Len(t, fake.bulkLines, 4)
	assert.JSONEq(t, `{"index":{"_id":"d1_0"}}`, fake.bulkLines[0])
	assert.Contains(t, fake.bulkLines[1], `"fragment_id":"d1_0"`)
	assert.JSONEq(t, `{"index":{"_id":"d1_1"}}`, fake.bulkLines[2])
}

func TestSearch_ParsesHits(t *testing.T) {
	fake := &fakeES{indexExists: true}
	x := newTestIndex(t, fake)

	got, err := x.Search(context.Background(), []float32{1, 0, 0, 0}, 5)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.ContextFragment{
		DocumentID: "d1", Title: "hd.pdf", DocType: "PDF", Content: "hợp đồng", ChunkIndex: 2, Score: 0.92,
	}, got[0])
	knn := fake.searchBody["knn"].(map[string]interface{})
	assert.Equal(t, float64(5), knn["k"])
}

func TestDeleteByDocument(t *testing.T) {
	fake := &fakeES{indexExists: true}
	x := newTestIndex(t, fake)

	require.NoError(t, x.DeleteByDocument(context.Background(), "d1"))
	assert.JSONEq(t, `{"query":{"term":{"document_id":"d1"}}}`, fake.deleteBody)
}
