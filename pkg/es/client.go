// Package es 提供了基于 Elasticsearch 的分块向量索引。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

// FragmentIndex 把文档分块及其向量存放在一个 Elasticsearch 索引中。
type FragmentIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewClient 创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	var addrs []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addrs,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// NewFragmentIndex 初始化索引，不存在时按 dims 维度创建 mapping。
func NewFragmentIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) (*FragmentIndex, error) {
	x := &FragmentIndex{client: client, index: indexName}
	if err := x.createIndexIfNotExists(ctx, dims); err != nil {
		return nil, err
	}
	return x, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (x *FragmentIndex) createIndexIfNotExists(ctx context.Context, dims int) error {
	res, err := x.client.Indices.Exists([]string{x.index}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[ES] 检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", x.index)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"fragment_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text", "analyzer": "standard" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"title": { "type": "keyword" },
				"doc_type": { "type": "keyword" },
				"upload_date": { "type": "date" },
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = x.client.Indices.Create(
		x.index,
		x.client.Indices.Create.WithContext(ctx),
		x.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("[ES] 创建索引 '%s' 失败: %v", x.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", x.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("[ES] 索引 '%s' 创建成功 (dims=%d)", x.index, dims)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 通过一次 bulk 请求写入全部分块，以 fragment ID 作为文档 ID。
func (x *FragmentIndex) Upsert(ctx context.Context, fragments []model.IndexFragment) error {
	if len(fragments) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, f := range fragments {
		meta := map[string]map[string]string{"index": {"_id": f.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(f); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   x.index,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] 批量写入分块出错: %s", res.String())
		return fmt.Errorf("bulk index failed: %s", res.Status())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, r := range item {
				if r.Status >= 300 {
					return fmt.Errorf("bulk index item failed: %s: %s", r.Error.Type, r.Error.Reason)
				}
			}
		}
		return errors.New("bulk index reported errors")
	}
	return nil
}

// Search 执行 kNN 检索，返回得分最高的 topK 个分块。
func (x *FragmentIndex) Search(ctx context.Context, vector []float32, topK int) ([]model.ContextFragment, error) {
	var buf bytes.Buffer
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 20,
		},
		"_source": []string{"document_id", "chunk_index", "text_content", "title", "doc_type"},
		"size":    topK,
	}
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.index),
		x.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s: %s", res.Status(), string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.IndexFragment `json:"_source"`
				Score  float64             `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	out := make([]model.ContextFragment, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		out = append(out, model.ContextFragment{
			DocumentID: hit.Source.DocumentID,
			Title:      hit.Source.Title,
			DocType:    hit.Source.DocType,
			Content:    hit.Source.Text,
			ChunkIndex: hit.Source.ChunkIndex,
			Score:      hit.Score,
		})
	}
	return out, nil
}

// DeleteByDocument 删除某个文档的全部分块。
func (x *FragmentIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	})
	if err != nil {
		return err
	}
	res, err := x.client.DeleteByQuery(
		[]string{x.index},
		bytes.NewReader(body),
		x.client.DeleteByQuery.WithContext(ctx),
		x.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by query failed: %s", res.String())
	}
	return nil
}
