// Package pgvec 是基于 PostgreSQL + pgvector 的分块向量索引。
package pgvec

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

// Store 实现分块的写入、余弦检索与按文档删除。
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// NewStore 连接数据库并确保扩展和表存在。
func NewStore(ctx context.Context, dsn, table string, dims int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if table == "" {
		table = "index_fragments"
	}
	s := &Store{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if err := s.migrate(ctx, dims); err != nil {
		pool.Close()
		return nil, err
	}
	log.Infof("[PGVector] 已连接，表 %s (dims=%d)", s.table, dims)
	return s, nil
}

func (s *Store) migrate(ctx context.Context, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            TEXT PRIMARY KEY,
			document_id   TEXT NOT NULL,
			chunk_index   INTEGER NOT NULL,
			content       TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			doc_type      TEXT NOT NULL DEFAULT '',
			upload_date   TIMESTAMPTZ,
			model_version TEXT NOT NULL DEFAULT '',
			embedding     vector(%d)
		)`, s.table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`,
			pgx.Identifier{indexName(s.table)}.Sanitize(), s.table),
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("pgvector migrate: %w", err)
		}
	}
	return nil
}

func indexName(sanitizedTable string) string {
	name := make([]rune, 0, len(sanitizedTable))
	for _, r := range sanitizedTable {
		if r != '"' {
			name = append(name, r)
		}
	}
	return string(name) + "_document_id_idx"
}

// Close 关闭连接池。
func (s *Store) Close() {
	s.pool.Close()
}

// Upsert 在一个事务中批量写入分块。
func (s *Store) Upsert(ctx context.Context, fragments []model.IndexFragment) error {
	if len(fragments) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(id, document_id, chunk_index, content, title, doc_type, upload_date, model_version, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			title = EXCLUDED.title,
			doc_type = EXCLUDED.doc_type,
			upload_date = EXCLUDED.upload_date,
			model_version = EXCLUDED.model_version,
			embedding = EXCLUDED.embedding`, s.table)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, f := range fragments {
			batch.Queue(query, f.ID, f.DocumentID, f.ChunkIndex, f.Text, f.Title, f.DocType,
				f.UploadDate, f.ModelVersion, pgvector.NewVector(f.Vector))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Search 按余弦距离升序返回 topK 个分块，Score = 1 - distance。
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]model.ContextFragment, error) {
	query := fmt.Sprintf(`SELECT document_id, chunk_index, content, title, doc_type, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ContextFragment
	for rows.Next() {
		var f model.ContextFragment
		if err := rows.Scan(&f.DocumentID, &f.ChunkIndex, &f.Content, &f.Title, &f.DocType, &f.Score); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteByDocument 删除文档的全部分块。
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.table), documentID)
	return err
}
