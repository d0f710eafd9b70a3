package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.InitSchema(context.Background()))
	return c
}

func sampleDocument(id, hash string, cat category.Category) *models.Document {
	return &models.Document{
		ID:          id,
		Filename:    id + ".txt",
		ContentType: "text/plain",
		ContentHash: hash,
		Category:    cat,
		Confidence:  0.8,
		Classifier:  "hybrid",
		Reasoning:   "test",
		CreatedAt:   time.Unix(1700000000, 0),
	}
}

func TestInsertAndGetDocument(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	doc := sampleDocument("doc-1", "h1", category.Legal)
	chunks := []models.DocumentChunk{
		{ID: "doc-1-1", ChunkIndex: 1, Text: "second", CreatedAt: doc.CreatedAt},
		{ID: "doc-1-0", ChunkIndex: 0, Text: "first", CreatedAt: doc.CreatedAt},
	}
	require.NoError(t, c.InsertDocument(ctx, doc, chunks))
	assert.Equal(t, 2, doc.ChunkCount)

	got, err := c.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, category.Legal, got.Category)
	assert.Equal(t, "hybrid", got.Classifier)
	assert.Equal(t, 2, got.ChunkCount)
	assert.True(t, got.CreatedAt.Equal(doc.CreatedAt))

	stored, err := c.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "first", stored[0].Text)
	assert.Equal(t, "second", stored[1].Text)
}

func TestGetDocumentNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.FindDocumentByHash(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateHashRejected(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertDocument(ctx, sampleDocument("a", "same", category.HRDocs), nil))
	assert.Error(t, c.InsertDocument(ctx, sampleDocument("b", "same", category.HRDocs), nil))

	found, err := c.FindDocumentByHash(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, "a", found.ID)
}

func TestFailedInsertRollsBack(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	chunks := []models.DocumentChunk{
		{ID: "dup", ChunkIndex: 0, Text: "x"},
		{ID: "dup", ChunkIndex: 1, Text: "y"},
	}
	require.Error(t, c.InsertDocument(ctx, sampleDocument("doc", "h", category.General), chunks))

	_, err := c.GetDocument(ctx, "doc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDocumentsByCategory(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertDocument(ctx, sampleDocument("l1", "h1", category.Legal), nil))
	require.NoError(t, c.InsertDocument(ctx, sampleDocument("t1", "h2", category.Technical), nil))
	require.NoError(t, c.InsertDocument(ctx, sampleDocument("l2", "h3", category.Legal), nil))

	legal, err := c.ListDocuments(ctx, category.Legal, 10)
	require.NoError(t, err)
	require.Len(t, legal, 2)
	assert.Equal(t, "l2", legal[0].ID)

	all, err := c.ListDocuments(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := c.ListDocuments(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestQueryRecordAndHistory(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first := &models.QueryRecord{
		ID:          "q1",
		SessionID:   "s1",
		QueryText:   "what is the notice period",
		Response:    "thirty days",
		Categories:  []category.Category{category.HRDocs, category.Legal},
		RoutingMode: "semantic",
		CreatedAt:   time.Unix(1700000000, 0),
	}
	sources := []models.QuerySource{
		{ChunkID: "c1", DocumentID: "d1", Filename: "handbook.pdf", Category: category.HRDocs, Score: 0.9},
	}
	require.NoError(t, c.InsertQueryRecord(ctx, first, sources))
	assert.Equal(t, 1, first.SourceCount)

	second := &models.QueryRecord{
		ID:          "q2",
		SessionID:   "s1",
		QueryText:   "tell me more",
		Categories:  []category.Category{category.HRDocs, category.Legal},
		RoutingMode: "follow_up",
		FollowUp:    true,
		CreatedAt:   time.Unix(1700000010, 0),
	}
	require.NoError(t, c.InsertQueryRecord(ctx, second, nil))

	history, err := c.GetSessionHistory(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "q2", history[0].ID)
	assert.True(t, history[0].FollowUp)
	assert.Equal(t, []category.Category{category.HRDocs, category.Legal}, history[1].Categories)
	assert.Equal(t, 1, history[1].SourceCount)

	none, err := c.GetSessionHistory(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCategoryStats(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	chunks := []models.DocumentChunk{{ID: "c0", ChunkIndex: 0, Text: "a"}, {ID: "c1", ChunkIndex: 1, Text: "b"}}
	require.NoError(t, c.InsertDocument(ctx, sampleDocument("d1", "h1", category.Financial), chunks))
	require.NoError(t, c.InsertQueryRecord(ctx, &models.QueryRecord{
		ID:          "q1",
		QueryText:   "revenue",
		Categories:  []category.Category{category.Financial, category.General},
		RoutingMode: "semantic",
	}, nil))

	stats, err := c.CategoryStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, len(category.All()))

	for i, cat := range category.All() {
		assert.Equal(t, cat, stats[i].Category)
	}

	fin := stats[category.Financial.Index()]
	assert.Equal(t, 1, fin.Documents)
	assert.Equal(t, 2, fin.Chunks)
	assert.Equal(t, 1, fin.Queries)

	assert.Equal(t, 1, stats[category.General.Index()].Queries)
	assert.Zero(t, stats[category.Legal.Index()].Documents)
}

func TestInsertEvaluationRun(t *testing.T) {
	c := newTestClient(t)

	run := &models.EvaluationRun{Classifier: "keyword", Total: 10, Correct: 7, Accuracy: 0.7, CreatedAt: time.Now()}
	require.NoError(t, c.InsertEvaluationRun(context.Background(), run))
	assert.NotZero(t, run.ID)
}
