package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/metrics"
)

// Arbitration branches, also used as the metric label.
const (
	BranchEmpty          = "empty"
	BranchShortText      = "short_text"
	BranchLLMConfident   = "llm_confident"
	BranchAgreement      = "agreement_boost"
	BranchDisagreement   = "disagreement_keyword"
	BranchLLMLow         = "llm_low_confidence"
	BranchLLMUnavailable = "llm_unavailable"
	BranchRecovered      = "recovered"
)

const (
	agreementCap    = 0.9
	disagreementCap = 0.7
	arbitrationBump = 0.1
)

type HybridConfig struct {
	LLMConfidenceThreshold     float64
	KeywordConfidenceThreshold float64
	MinTextLength              int
	LLMTimeout                 time.Duration
}

func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		LLMConfidenceThreshold:     0.7,
		KeywordConfidenceThreshold: 0.5,
		MinTextLength:              50,
		LLMTimeout:                 20 * time.Second,
	}
}

// Hybrid combines a keyword scorer with an LLM classifier. The llm may be nil,
// in which case every call takes the keyword fallback.
type Hybrid struct {
	keyword Classifier
	llm     Classifier
	config  HybridConfig
	logger  *zap.Logger
}

func NewHybrid(keyword, llm Classifier, config HybridConfig, logger *zap.Logger) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{
		keyword: keyword,
		llm:     llm,
		config:  config,
		logger:  logger,
	}
}

// Classify never returns an error. Failures degrade to the keyword result or
// to general.
func (h *Hybrid) Classify(ctx context.Context, text string) (res Result, err error) {
	start := time.Now()
	branch := BranchRecovered
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Hybrid classification panicked", zap.Any("panic", r))
			res = Result{
				Category:       category.General,
				Confidence:     noMatchConfidence,
				Reasoning:      fmt.Sprintf("classification failed: %v", r),
				ProcessingTime: time.Since(start),
				Classifier:     NameHybrid,
			}
			branch = BranchRecovered
			err = nil
		}
		metrics.ClassificationsTotal.WithLabelValues(string(res.Category), branch).Inc()
		metrics.ClassificationConfidence.WithLabelValues(res.Classifier).Observe(res.Confidence)
	}()

	if strings.TrimSpace(text) == "" {
		branch = BranchEmpty
		return Result{
			Category:       category.General,
			Confidence:     0,
			Reasoning:      "empty text",
			ProcessingTime: time.Since(start),
			Classifier:     NameHybrid,
		}, nil
	}

	if utf8.RuneCountInString(text) < h.config.MinTextLength {
		branch = BranchShortText
		return h.keywordResult(ctx, text), nil
	}

	llmResult := h.tryLLM(ctx, text)
	kw := h.keywordResult(ctx, text)

	res, branch = h.config.arbitrate(llmResult, kw)
	if res.Classifier == NameHybrid {
		res.ProcessingTime = time.Since(start)
	}

	h.logger.Debug("Hybrid classification",
		zap.String("branch", branch),
		zap.String("category", string(res.Category)),
		zap.Float64("confidence", res.Confidence),
	)
	return res, nil
}

func (h *Hybrid) tryLLM(ctx context.Context, text string) *Result {
	if h.llm == nil {
		return nil
	}

	if h.config.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.LLMTimeout)
		defer cancel()
	}

	res, err := h.llm.Classify(ctx, text)
	if err != nil {
		h.logger.Warn("LLM classification unavailable, using keyword result", zap.Error(err))
		return nil
	}
	return &res
}

func (h *Hybrid) keywordResult(ctx context.Context, text string) Result {
	res, err := h.keyword.Classify(ctx, text)
	if err != nil {
		return Result{
			Category:   category.General,
			Confidence: noMatchConfidence,
			Reasoning:  fmt.Sprintf("keyword classification failed: %v", err),
			Classifier: NameKeyword,
		}
	}
	return res
}

// arbitrate applies the decision table. A nil llm means the LLM result is
// absent. The keyword result is returned verbatim when it is the only signal.
func (c HybridConfig) arbitrate(llm *Result, kw Result) (Result, string) {
	if llm == nil {
		return kw, BranchLLMUnavailable
	}

	switch {
	case llm.Confidence >= c.LLMConfidenceThreshold:
		return Result{
			Category:   llm.Category,
			Confidence: llm.Confidence,
			Reasoning:  "llm confident: " + llm.Reasoning,
			Classifier: NameHybrid,
		}, BranchLLMConfident

	case kw.Confidence >= c.KeywordConfidenceThreshold && llm.Category == kw.Category:
		return Result{
			Category:   llm.Category,
			Confidence: math.Min(agreementCap, llm.Confidence+arbitrationBump),
			Reasoning:  fmt.Sprintf("llm and keyword agree on %s: %s", llm.Category, llm.Reasoning),
			Classifier: NameHybrid,
		}, BranchAgreement

	case kw.Confidence >= c.KeywordConfidenceThreshold:
		return Result{
			Category:   kw.Category,
			Confidence: math.Min(disagreementCap, kw.Confidence+arbitrationBump),
			Reasoning:  fmt.Sprintf("llm (%s) and keyword (%s) disagree, keeping keyword: %s", llm.Category, kw.Category, kw.Reasoning),
			Classifier: NameHybrid,
		}, BranchDisagreement

	default:
		return Result{
			Category:   llm.Category,
			Confidence: llm.Confidence,
			Reasoning:  "low confidence on both signals, using llm: " + llm.Reasoning,
			Classifier: NameHybrid,
		}, BranchLLMLow
	}
}
