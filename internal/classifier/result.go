// Package classifier assigns a category and confidence to a block of text.
package classifier

import (
	"context"
	"errors"
	"time"

	"github.com/docrouter/backend/internal/category"
)

const (
	NameKeyword = "keyword"
	NameLLM     = "llm"
	NameHybrid  = "hybrid"
)

var (
	ErrLLMUnavailable    = errors.New("llm classifier unavailable")
	ErrMalformedResponse = errors.New("malformed classifier response")
)

type Result struct {
	Category       category.Category `json:"category"`
	Confidence     float64           `json:"confidence"`
	Reasoning      string            `json:"reasoning"`
	ProcessingTime time.Duration     `json:"-"`
	Classifier     string            `json:"classifier"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
