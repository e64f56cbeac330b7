// Package memindex 是进程内的暴力余弦相似度索引，用于开发环境和测试。
package memindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/nhdandz/SmartDoc/internal/model"
)

// Index 按分块 ID 保存向量。
type Index struct {
	mu        sync.RWMutex
	fragments map[string]model.IndexFragment
}

// New 创建空索引。
func New() *Index {
	return &Index{fragments: make(map[string]model.IndexFragment)}
}

// Upsert 写入或覆盖分块。
func (x *Index) Upsert(_ context.Context, fragments []model.IndexFragment) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, f := range fragments {
		x.fragments[f.ID] = f
	}
	return nil
}

// Search 返回与 vector 余弦相似度最高的 topK 个分块。
func (x *Index) Search(_ context.Context, vector []float32, topK int) ([]model.ContextFragment, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]model.ContextFragment, 0, len(x.fragments))
	for _, f := range x.fragments {
		score, ok := cosine(vector, f.Vector)
		if !ok {
			continue
		}
		out = append(out, model.ContextFragment{
			DocumentID: f.DocumentID,
			Title:      f.Title,
			DocType:    f.DocType,
			Content:    f.Text,
			ChunkIndex: f.ChunkIndex,
			Score:      score,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// DeleteByDocument 删除文档的全部分块。
func (x *Index) DeleteByDocument(_ context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, f := range x.fragments {
		if f.DocumentID == documentID {
			delete(x.fragments, id)
		}
	}
	return nil
}

// Len 返回分块总数。
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.fragments)
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
