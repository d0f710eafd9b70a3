package models

import (
	"time"

	"github.com/docrouter/backend/internal/category"
)

type Document struct {
	ID          string
	Filename    string
	ContentType string
	ContentHash string
	Category    category.Category
	Confidence  float64
	Classifier  string
	Reasoning   string
	ChunkCount  int
	CreatedAt   time.Time
}

type DocumentChunk struct {
	ID         string
	DocID      string
	ChunkIndex int
	Text       string
	CreatedAt  time.Time
}

type QueryRecord struct {
	ID             string
	SessionID      string
	UserID         string
	QueryText      string
	Response       string
	Categories     []category.Category
	RoutingMode    string
	FollowUp       bool
	CandidateCount int
	SourceCount    int
	LatencyMS      int
	CreatedAt      time.Time
}

type QuerySource struct {
	ID         int
	QueryID    string
	ChunkID    string
	DocumentID string
	Filename   string
	Category   category.Category
	Score      float64
}

type EvaluationRun struct {
	ID         int
	Classifier string
	Total      int
	Correct    int
	Accuracy   float64
	CreatedAt  time.Time
}

// CategoryStats aggregates stored documents and routed queries per category.
type CategoryStats struct {
	Category  category.Category `json:"category"`
	Documents int               `json:"documents"`
	Chunks    int               `json:"chunks"`
	Queries   int               `json:"queries"`
}
