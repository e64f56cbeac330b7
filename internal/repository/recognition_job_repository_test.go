package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
)

func seedJob(t *testing.T, db *gorm.DB, id, docID string) {
	t.Helper()
	require.NoError(t, NewRecognitionJobRepository(db).Create(context.Background(), &model.RecognitionJob{
		ID:         id,
		DocumentID: docID,
		OwnerID:    "u1",
		FileName:   "scan.pdf",
		Status:     model.JobProcessing,
		Engine:     "tesseract",
		Language:   "vie+eng",
	}))
}

func TestRecognitionJobRepository_CompleteIsAtomicAndTerminal(t *testing.T) {
	db := newTestDB(t)
	seedDocument(t, db, "doc", "u1", "")
	seedJob(t, db, "job", "doc")
	jobs := NewRecognitionJobRepository(db)
	ctx := context.Background()

	err := jobs.Complete(ctx, "job", JobCompletion{
		Text:       "Hóa đơn",
		Confidence: 0.87,
		Metadata:   datatypes.JSONMap{model.MetaTextLength: 7},
	})
	require.NoError(t, err)

	job, err := jobs.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, "Hóa đơn", job.Text)
	assert.InDelta(t, 0.87, job.Confidence, 1e-9)
	assert.Equal(t, "7", fmt.Sprint(job.Metadata[model.MetaTextLength]))

	doc, err := NewDocumentRepository(db).FindByID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "Hóa đơn", doc.ExtractedText)
	assert.True(t, doc.IsProcessed)

	// 终态之后的任何迁移都被拒绝
	assert.ErrorIs(t, jobs.MarkFailed(ctx, "job", datatypes.JSONMap{model.MetaError: "late"}), errs.ErrJobNotProcessing)
	assert.ErrorIs(t, jobs.Complete(ctx, "job", JobCompletion{Text: "again"}), errs.ErrJobNotProcessing)
}

func TestRecognitionJobRepository_CompleteRollsBackWithoutDocument(t *testing.T) {
	db := newTestDB(t)
	seedJob(t, db, "job", "missing-doc")
	jobs := NewRecognitionJobRepository(db)
	ctx := context.Background()

	err := jobs.Complete(ctx, "job", JobCompletion{Text: "text"})

	assert.ErrorIs(t, err, errs.ErrNotFound)
	job, err := jobs.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, model.JobProcessing, job.Status, "job update rolled back")
}

func TestRecognitionJobRepository_MarkFailedLeavesDocument(t *testing.T) {
	db := newTestDB(t)
	seedDocument(t, db, "doc", "u1", "")
	seedJob(t, db, "job", "doc")
	jobs := NewRecognitionJobRepository(db)
	ctx := context.Background()

	require.NoError(t, jobs.MarkFailed(ctx, "job", datatypes.JSONMap{model.MetaError: "tesseract crashed"}))

	job, err := jobs.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, "tesseract crashed", job.Metadata[model.MetaError])
	doc, err := NewDocumentRepository(db).FindByID(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, doc.IsProcessed)

	assert.ErrorIs(t, jobs.MarkFailed(ctx, "nope", nil), errs.ErrNotFound)
}

func TestRecognitionJobRepository_CorrectText(t *testing.T) {
	db := newTestDB(t)
	seedDocument(t, db, "doc", "u1", "")
	seedJob(t, db, "job", "doc")
	jobs := NewRecognitionJobRepository(db)
	ctx := context.Background()

	assert.ErrorIs(t, jobs.CorrectText(ctx, "job", "x", nil), errs.ErrJobNotCompleted)

	require.NoError(t, jobs.Complete(ctx, "job", JobCompletion{Text: "Hoa don", Confidence: 0.5}))
	require.NoError(t, jobs.CorrectText(ctx, "job", "Hóa đơn", datatypes.JSONMap{model.MetaManuallyEdited: true}))

	job, err := jobs.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "Hóa đơn", job.Text)
	assert.Equal(t, true, job.Metadata[model.MetaManuallyEdited])
	doc, err := NewDocumentRepository(db).FindByID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "Hóa đơn", doc.ExtractedText)
}

func TestRecognitionJobRepository_ListByOwner(t *testing.T) {
	db := newTestDB(t)
	seedJob(t, db, "j1", "d1")
	seedJob(t, db, "j2", "d2")
	jobs := NewRecognitionJobRepository(db)

	list, err := jobs.ListByOwner(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = jobs.ListByOwner(context.Background(), "u2", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
