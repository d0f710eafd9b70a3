package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
)

const (
	defaultPreviewChars       = 2000
	malformedConfidence       = 0.3
	invalidLabelConfidenceCap = 0.5
)

const classificationPrompt = `You are an expert document classifier. Classify the text below into exactly one of these categories:

- legal: contracts, agreements, terms, compliance, regulations, litigation
- technical: technical documentation, APIs, code, specifications, engineering
- financial: financial reports, budgets, invoices, accounting, monetary matters
- hr_docs: human resources, employee policies, benefits, training, personnel
- general: anything that does not clearly fit the categories above

Respond with a single JSON object and nothing else:
{"category": "<one of legal|technical|financial|hr_docs|general>", "confidence": <number between 0.0 and 1.0>, "reasoning": "<one short sentence>"}

Text:
%s`

// Completer is the text-generation collaborator behind LLM.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type LLM struct {
	completer    Completer
	previewChars int
	logger       *zap.Logger
}

func NewLLM(completer Completer, previewChars int, logger *zap.Logger) *LLM {
	if previewChars <= 0 {
		previewChars = defaultPreviewChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{
		completer:    completer,
		previewChars: previewChars,
		logger:       logger,
	}
}

type llmVerdict struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify asks the completer for a verdict. Transport failures are returned
// wrapped in ErrLLMUnavailable; a malformed verdict is not an error and
// degrades to general.
func (l *LLM) Classify(ctx context.Context, text string) (Result, error) {
	start := time.Now()

	prompt := fmt.Sprintf(classificationPrompt, preview(text, l.previewChars))
	raw, err := l.completer.Complete(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}

	res := parseVerdict(raw)
	res.ProcessingTime = time.Since(start)
	if res.Category == category.General && res.Confidence <= invalidLabelConfidenceCap {
		l.logger.Debug("LLM verdict degraded to general",
			zap.String("reasoning", res.Reasoning),
		)
	}
	return res, nil
}

// HealthCheck performs a minimal completion round-trip.
func (l *LLM) HealthCheck(ctx context.Context) bool {
	_, err := l.completer.Complete(ctx, "Reply with the single word OK.")
	if err != nil {
		l.logger.Warn("LLM classifier health check failed", zap.Error(err))
		return false
	}
	return true
}

func parseVerdict(raw string) Result {
	object, err := extractJSONObject(raw)
	if err != nil {
		return Result{
			Category:   category.General,
			Confidence: malformedConfidence,
			Reasoning:  "unparseable classifier response",
			Classifier: NameLLM,
		}
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(object), &v); err != nil {
		return Result{
			Category:   category.General,
			Confidence: malformedConfidence,
			Reasoning:  fmt.Sprintf("unparseable classifier response: %v", err),
			Classifier: NameLLM,
		}
	}

	confidence := clampUnit(v.Confidence)
	cat, ok := category.Parse(v.Category)
	if !ok {
		return Result{
			Category:   category.General,
			Confidence: min(confidence, invalidLabelConfidenceCap),
			Reasoning:  fmt.Sprintf("invalid category label %q", v.Category),
			Classifier: NameLLM,
		}
	}

	reasoning := strings.TrimSpace(v.Reasoning)
	if reasoning == "" {
		reasoning = "no reasoning provided"
	}
	return Result{
		Category:   cat,
		Confidence: confidence,
		Reasoning:  reasoning,
		Classifier: NameLLM,
	}
}

// extractJSONObject returns the first balanced {...} span of s. Braces inside
// JSON strings do not count towards nesting.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrMalformedResponse
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrMalformedResponse
}

func preview(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
