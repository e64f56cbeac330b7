package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nhdandz/SmartDoc/internal/model"
)

// newTestDB 打开一个内存 SQLite 数据库并迁移模型。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库在连接之间不共享
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.SourceDocument{}, &model.RecognitionJob{}, &model.SearchHistory{}))
	return db
}

func seedDocument(t *testing.T, db *gorm.DB, id, owner, text string) *model.SourceDocument {
	t.Helper()
	doc := &model.SourceDocument{
		ID:            id,
		OwnerID:       owner,
		Name:          id + ".pdf",
		StoragePath:   "documents/" + id,
		Type:          "PDF",
		ExtractedText: text,
		IsProcessed:   text != "",
	}
	require.NoError(t, NewDocumentRepository(db).Create(context.Background(), doc))
	return doc
}
