package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/metrics"
	"github.com/docrouter/backend/internal/rerank"
	"github.com/docrouter/backend/internal/routing"
	"github.com/docrouter/backend/internal/storage/models"
)

const NoDocumentsAnswer = "I could not find any documents relevant to your question in the selected categories."

var ErrEmptyQuery = errors.New("query is empty")

type Router interface {
	Decide(ctx context.Context, query, sessionID string) routing.Decision
	QueryVector(ctx context.Context, query string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, cat category.Category, vector []float32, topK int) ([]rerank.Candidate, error)
}

type Answerer interface {
	GenerateAnswer(ctx context.Context, query string, passages []rerank.Candidate) (string, error)
}

type QueryStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error
}

type Config struct {
	TopK                  int
	CandidatesPerCategory int
	Lambda                float64
}

func DefaultConfig() Config {
	return Config{TopK: 5, CandidatesPerCategory: 10, Lambda: rerank.DefaultLambda}
}

type Engine struct {
	router   Router
	searcher Searcher
	answerer Answerer
	store    QueryStore
	config   Config
	logger   *zap.Logger
}

type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

type QueryResponse struct {
	ID             string                        `json:"id"`
	Query          string                        `json:"query"`
	Answer         string                        `json:"answer"`
	Categories     []category.Category           `json:"categories"`
	Similarities   map[category.Category]float64 `json:"similarities,omitempty"`
	FollowUp       bool                          `json:"follow_up"`
	RoutingMode    string                        `json:"routing_mode"`
	Sources        []Source                      `json:"sources"`
	CandidateCount int                           `json:"candidate_count"`
	LatencyMS      int                           `json:"latency_ms"`
}

type Source struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Filename   string            `json:"filename"`
	Category   category.Category `json:"category"`
	Score      float64           `json:"score"`
	Text       string            `json:"text"`
}

// NewEngine wires the query pipeline. store may be nil, which disables
// query history.
func NewEngine(router Router, searcher Searcher, answerer Answerer, store QueryStore, config Config, logger *zap.Logger) *Engine {
	defaults := DefaultConfig()
	if config.TopK <= 0 {
		config.TopK = defaults.TopK
	}
	if config.CandidatesPerCategory <= 0 {
		config.CandidatesPerCategory = defaults.CandidatesPerCategory
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		router:   router,
		searcher: searcher,
		answerer: answerer,
		store:    store,
		config:   config,
		logger:   logger,
	}
}

// ProcessQuery routes a question to categories, retrieves and diversifies
// passages from each routed partition, and answers from them.
func (e *Engine) ProcessQuery(ctx context.Context, req QueryRequest) (resp *QueryResponse, err error) {
	startTime := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.QueryDuration.WithLabelValues(status).Observe(time.Since(startTime).Seconds())
	}()

	if req.Query == "" {
		return nil, ErrEmptyQuery
	}

	queryID := uuid.New().String()
	e.logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("session_id", req.SessionID),
	)

	decision := e.router.Decide(ctx, req.Query, req.SessionID)

	vector := decision.QueryVector
	if vector == nil {
		vector, err = e.router.QueryVector(ctx, req.Query)
		if err != nil {
			e.logger.Warn("Query embedding unavailable, skipping retrieval",
				zap.String("query_id", queryID),
				zap.Error(err),
			)
		}
	}

	var candidates []rerank.Candidate
	if vector != nil {
		candidates = e.retrieve(ctx, decision.Categories, vector)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.config.TopK
	}
	selected := rerank.Rerank(vector, candidates, topK, e.config.Lambda)
	metrics.RerankCandidates.Observe(float64(len(candidates)))
	metrics.RerankSelected.Observe(float64(len(selected)))

	e.logger.Info("Passages selected",
		zap.String("query_id", queryID),
		zap.Strings("categories", category.Strings(decision.Categories)),
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(selected)),
	)

	answer := NoDocumentsAnswer
	if len(selected) > 0 {
		answer, err = e.answerer.GenerateAnswer(ctx, req.Query, selected)
		if err != nil {
			return nil, fmt.Errorf("failed to generate response: %w", err)
		}
	}

	sources := make([]Source, len(selected))
	for i, c := range selected {
		sources[i] = toSource(c)
	}

	latency := int(time.Since(startTime).Milliseconds())
	e.record(ctx, queryID, req, decision, answer, len(candidates), sources, latency)

	e.logger.Info("Query processed successfully",
		zap.String("query_id", queryID),
		zap.String("mode", decision.Mode),
		zap.Int("latency_ms", latency),
	)

	return &QueryResponse{
		ID:             queryID,
		Query:          req.Query,
		Answer:         answer,
		Categories:     decision.Categories,
		Similarities:   decision.Similarities,
		FollowUp:       decision.FollowUp,
		RoutingMode:    decision.Mode,
		Sources:        sources,
		CandidateCount: len(candidates),
		LatencyMS:      latency,
	}, nil
}

// retrieve searches every routed partition concurrently. Results keep the
// routed category order and failed partitions are skipped.
func (e *Engine) retrieve(ctx context.Context, cats []category.Category, vector []float32) []rerank.Candidate {
	perCategory := make([][]rerank.Candidate, len(cats))

	var g errgroup.Group
	for i, cat := range cats {
		g.Go(func() error {
			found, err := e.searcher.Search(ctx, cat, vector, e.config.CandidatesPerCategory)
			if err != nil {
				e.logger.Warn("Partition search failed",
					zap.String("category", cat.String()),
					zap.Error(err),
				)
				return nil
			}
			perCategory[i] = found
			return nil
		})
	}
	_ = g.Wait()

	var out []rerank.Candidate
	for _, found := range perCategory {
		out = append(out, found...)
	}
	return out
}

func (e *Engine) record(ctx context.Context, queryID string, req QueryRequest, decision routing.Decision, answer string, candidateCount int, sources []Source, latency int) {
	if e.store == nil {
		return
	}

	record := &models.QueryRecord{
		ID:             queryID,
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		QueryText:      req.Query,
		Response:       answer,
		Categories:     decision.Categories,
		RoutingMode:    decision.Mode,
		FollowUp:       decision.FollowUp,
		CandidateCount: candidateCount,
		LatencyMS:      latency,
		CreatedAt:      time.Now(),
	}

	rows := make([]models.QuerySource, len(sources))
	for i, s := range sources {
		rows[i] = models.QuerySource{
			QueryID:    queryID,
			ChunkID:    s.ChunkID,
			DocumentID: s.DocumentID,
			Filename:   s.Filename,
			Category:   s.Category,
			Score:      s.Score,
		}
	}

	if err := e.store.InsertQueryRecord(ctx, record, rows); err != nil {
		e.logger.Warn("Failed to record query", zap.String("query_id", queryID), zap.Error(err))
	}
}

func toSource(c rerank.Candidate) Source {
	str := func(key string) string {
		v, _ := c.Metadata[key].(string)
		return v
	}

	var score float64
	switch v := c.Metadata["score"].(type) {
	case float32:
		score = float64(v)
	case float64:
		score = v
	}

	return Source{
		ChunkID:    str("chunk_id"),
		DocumentID: str("document_id"),
		Filename:   str("filename"),
		Category:   category.Category(str("category")),
		Score:      score,
		Text:       c.Text,
	}
}
