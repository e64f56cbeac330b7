package model

import (
	"fmt"
	"time"
)

// IndexFragment 代表存储在向量索引中的一个文本分块。
type IndexFragment struct {
	ID           string    `json:"fragment_id"` // documentID_chunkIndex
	DocumentID   string    `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Text         string    `json:"text_content"`
	Vector       []float32 `json:"vector,omitempty"`
	Title        string    `json:"title"`
	DocType      string    `json:"doc_type"`
	UploadDate   time.Time `json:"upload_date"`
	ModelVersion string    `json:"model_version"`
}

// FragmentID 生成分块在索引中的唯一标识。
func FragmentID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

// ContextFragment 是检索返回、送入答案合成的文本片段。
type ContextFragment struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	DocType    string  `json:"docType"`
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
}

// Citation 记录一个被放入模型上下文的片段来源。
type Citation struct {
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
	DocumentID string `json:"documentId"`
}
