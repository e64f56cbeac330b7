// Package pipeline 定义了文档抽取、识别、索引、检索与答案合成的核心流程。
package pipeline

import (
	"context"

	"github.com/nhdandz/SmartDoc/internal/model"
)

// Capabilities 描述启动时探测到的可选后端。
type Capabilities struct {
	HasVectorIndex   bool
	HasLanguageModel bool
	HasEmbeddings    bool
}

// CanIndex 需要向量索引和 embedding 同时可用。
func (c Capabilities) CanIndex() bool {
	return c.HasVectorIndex && c.HasEmbeddings
}

// CanSearchVectors 与 CanIndex 条件相同：查询也需要先向量化。
func (c Capabilities) CanSearchVectors() bool {
	return c.HasVectorIndex && c.HasEmbeddings
}

// VectorIndex 是分块向量的存储与检索后端。
type VectorIndex interface {
	Upsert(ctx context.Context, fragments []model.IndexFragment) error
	Search(ctx context.Context, vector []float32, topK int) ([]model.ContextFragment, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}
