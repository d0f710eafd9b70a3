package query

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/rerank"
	"github.com/docrouter/backend/internal/routing"
	"github.com/docrouter/backend/internal/storage/models"
)

type stubRouter struct {
	decision  routing.Decision
	vector    []float32
	vectorErr error
	embedded  int
}

func (r *stubRouter) Decide(ctx context.Context, query, sessionID string) routing.Decision {
	return r.decision
}

func (r *stubRouter) QueryVector(ctx context.Context, query string) ([]float32, error) {
	r.embedded++
	return r.vector, r.vectorErr
}

type stubSearcher struct {
	mu       sync.Mutex
	results  map[category.Category][]rerank.Candidate
	failures map[category.Category]error
	searched []category.Category
	topKs    []int
}

func (s *stubSearcher) Search(ctx context.Context, cat category.Category, vector []float32, topK int) ([]rerank.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searched = append(s.searched, cat)
	s.topKs = append(s.topKs, topK)
	if err := s.failures[cat]; err != nil {
		return nil, err
	}
	return s.results[cat], nil
}

type stubAnswerer struct {
	passages []rerank.Candidate
	err      error
}

func (a *stubAnswerer) GenerateAnswer(ctx context.Context, query string, passages []rerank.Candidate) (string, error) {
	a.passages = passages
	if a.err != nil {
		return "", a.err
	}
	return "answer", nil
}

type stubStore struct {
	records []*models.QueryRecord
	sources [][]models.QuerySource
	err     error
}

func (s *stubStore) InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error {
	s.records = append(s.records, record)
	s.sources = append(s.sources, sources)
	return s.err
}

func candidate(chunkID string, cat category.Category, embedding []float32) rerank.Candidate {
	return rerank.Candidate{
		Text:      "text of " + chunkID,
		Embedding: embedding,
		Metadata: map[string]any{
			"chunk_id":    chunkID,
			"document_id": "doc-" + chunkID,
			"filename":    chunkID + ".txt",
			"category":    string(cat),
			"score":       float32(0.5),
		},
	}
}

func semanticDecision(cats ...category.Category) routing.Decision {
	return routing.Decision{
		Categories:  cats,
		QueryVector: []float32{1, 0},
		Mode:        routing.ModeSemantic,
	}
}

func TestProcessQuerySearchesRoutedCategories(t *testing.T) {
	router := &stubRouter{decision: semanticDecision(category.Legal, category.HRDocs)}
	searcher := &stubSearcher{results: map[category.Category][]rerank.Candidate{
		category.Legal:  {candidate("l1", category.Legal, []float32{1, 0})},
		category.HRDocs: {candidate("h1", category.HRDocs, []float32{0.8, 0.6})},
	}}
	answerer := &stubAnswerer{}
	store := &stubStore{}

	e := NewEngine(router, searcher, answerer, store, Config{TopK: 5, CandidatesPerCategory: 7, Lambda: 0.5}, nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "notice period", SessionID: "s1"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []category.Category{category.Legal, category.HRDocs}, searcher.searched)
	assert.Equal(t, []int{7, 7}, searcher.topKs)
	assert.Zero(t, router.embedded)

	assert.Equal(t, "answer", resp.Answer)
	assert.Equal(t, 2, resp.CandidateCount)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "l1", resp.Sources[0].ChunkID)
	assert.Equal(t, category.Legal, resp.Sources[0].Category)
	assert.InDelta(t, 0.5, resp.Sources[0].Score, 1e-6)
	assert.Len(t, answerer.passages, 2)

	require.Len(t, store.records, 1)
	assert.Equal(t, "s1", store.records[0].SessionID)
	assert.Equal(t, routing.ModeSemantic, store.records[0].RoutingMode)
	assert.Len(t, store.sources[0], 2)
}

func TestProcessQueryFollowUpEmbedsQuery(t *testing.T) {
	router := &stubRouter{
		decision: routing.Decision{Categories: []category.Category{category.Technical}, FollowUp: true, Mode: routing.ModeFollowUp},
		vector:   []float32{0, 1},
	}
	searcher := &stubSearcher{results: map[category.Category][]rerank.Candidate{
		category.Technical: {candidate("t1", category.Technical, []float32{0, 1})},
	}}

	e := NewEngine(router, searcher, &stubAnswerer{}, nil, DefaultConfig(), nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "tell me more", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, 1, router.embedded)
	assert.True(t, resp.FollowUp)
	assert.Equal(t, routing.ModeFollowUp, resp.RoutingMode)
	assert.Len(t, resp.Sources, 1)
}

func TestProcessQueryAppliesTopK(t *testing.T) {
	router := &stubRouter{decision: semanticDecision(category.Financial)}
	searcher := &stubSearcher{results: map[category.Category][]rerank.Candidate{
		category.Financial: {
			candidate("a", category.Financial, []float32{1, 0}),
			candidate("b", category.Financial, []float32{0.9, 0.1}),
			candidate("c", category.Financial, []float32{0, 1}),
		},
	}}

	e := NewEngine(router, searcher, &stubAnswerer{}, nil, DefaultConfig(), nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "revenue", TopK: 2})
	require.NoError(t, err)

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "a", resp.Sources[0].ChunkID)
	assert.Equal(t, 3, resp.CandidateCount)
}

func TestProcessQuerySkipsFailedPartition(t *testing.T) {
	router := &stubRouter{decision: semanticDecision(category.Legal, category.General)}
	searcher := &stubSearcher{
		results: map[category.Category][]rerank.Candidate{
			category.General: {candidate("g1", category.General, []float32{1, 0})},
		},
		failures: map[category.Category]error{category.Legal: errors.New("partition offline")},
	}

	e := NewEngine(router, searcher, &stubAnswerer{}, nil, DefaultConfig(), nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "anything"})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "g1", resp.Sources[0].ChunkID)
}

func TestProcessQueryNoDocuments(t *testing.T) {
	router := &stubRouter{decision: semanticDecision(category.Legal)}
	answerer := &stubAnswerer{err: errors.New("must not be called")}

	e := NewEngine(router, &stubSearcher{}, answerer, nil, DefaultConfig(), nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Nil(t, answerer.passages)
}

func TestProcessQueryEmbeddingUnavailable(t *testing.T) {
	router := &stubRouter{
		decision:  routing.Decision{Categories: []category.Category{category.General}, Mode: routing.ModeFallback},
		vectorErr: errors.New("embedding provider down"),
	}
	searcher := &stubSearcher{}

	e := NewEngine(router, searcher, &stubAnswerer{}, nil, DefaultConfig(), nil)

	resp, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsAnswer, resp.Answer)
	assert.Empty(t, searcher.searched)
}

func TestProcessQueryAnswerFailure(t *testing.T) {
	router := &stubRouter{decision: semanticDecision(category.Legal)}
	searcher := &stubSearcher{results: map[category.Category][]rerank.Candidate{
		category.Legal: {candidate("l1", category.Legal, []float32{1, 0})},
	}}
	store := &stubStore{}

	e := NewEngine(router, searcher, &stubAnswerer{err: errors.New("llm down")}, store, DefaultConfig(), nil)

	_, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "anything"})
	require.Error(t, err)
	assert.Empty(t, store.records)
}

func TestProcessQueryStoreFailureIsNotFatal(t *testing.T) {
	router := &stubRouter{decision: semanticDecision(category.Legal)}
	store := &stubStore{err: errors.New("disk full")}

	e := NewEngine(router, &stubSearcher{}, &stubAnswerer{}, store, DefaultConfig(), nil)

	_, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "anything"})
	assert.NoError(t, err)
	assert.Len(t, store.records, 1)
}

func TestProcessQueryRejectsEmpty(t *testing.T) {
	e := NewEngine(&stubRouter{}, &stubSearcher{}, &stubAnswerer{}, nil, DefaultConfig(), nil)

	_, err := e.ProcessQuery(context.Background(), QueryRequest{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}
