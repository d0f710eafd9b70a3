package classifier

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrouter/backend/internal/category"
)

// longText is comfortably above the minimum length for an LLM call.
var longText = strings.Repeat("This paragraph discusses an ordinary business matter. ", 3)

type stubClassifier struct {
	result Result
	err    error
	block  bool
	panics bool
	calls  atomic.Int32
}

func (s *stubClassifier) Classify(ctx context.Context, _ string) (Result, error) {
	s.calls.Add(1)
	if s.panics {
		panic("boom")
	}
	if s.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	return s.result, s.err
}

func llmSays(cat category.Category, conf float64) *stubClassifier {
	return &stubClassifier{result: Result{Category: cat, Confidence: conf, Reasoning: "llm", Classifier: NameLLM}}
}

func keywordSays(cat category.Category, conf float64) *stubClassifier {
	return &stubClassifier{result: Result{Category: cat, Confidence: conf, Reasoning: "kw", Classifier: NameKeyword}}
}

func sameVerdict(t *testing.T, want, got Result) {
	t.Helper()
	assert.Equal(t, want.Category, got.Category)
	assert.Equal(t, want.Confidence, got.Confidence)
	assert.Equal(t, want.Reasoning, got.Reasoning)
	assert.Equal(t, want.Classifier, got.Classifier)
}

func TestHybridEmptyText(t *testing.T) {
	llm := llmSays(category.Legal, 0.9)
	h := NewHybrid(NewKeyword(), llm, DefaultHybridConfig(), nil)

	for _, text := range []string{"", "   \n\t"} {
		res, err := h.Classify(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, category.General, res.Category)
		assert.Equal(t, 0.0, res.Confidence)
	}
	assert.Zero(t, llm.calls.Load())
}

func TestHybridShortTextSkipsLLM(t *testing.T) {
	text := "Contract renewal for the vendor"
	require.Len(t, []rune(text), 31)

	llm := llmSays(category.Technical, 0.99)
	kw := NewKeyword()
	h := NewHybrid(kw, llm, DefaultHybridConfig(), nil)

	res, err := h.Classify(context.Background(), text)
	require.NoError(t, err)

	want, _ := kw.Classify(context.Background(), text)
	sameVerdict(t, want, res)
	assert.Zero(t, llm.calls.Load())
}

func TestHybridArbitration(t *testing.T) {
	tests := []struct {
		name     string
		llm      *stubClassifier
		keyword  *stubClassifier
		wantCat  category.Category
		wantConf float64
		reason   string
	}{
		{
			name:     "llm confident",
			llm:      llmSays(category.Legal, 0.85),
			keyword:  keywordSays(category.Financial, 0.8),
			wantCat:  category.Legal,
			wantConf: 0.85,
			reason:   "llm confident",
		},
		{
			name:     "agreement boost",
			llm:      llmSays(category.Legal, 0.6),
			keyword:  keywordSays(category.Legal, 0.55),
			wantCat:  category.Legal,
			wantConf: 0.7,
			reason:   "agree",
		},
		{
			name:     "agreement boost near threshold",
			llm:      llmSays(category.Legal, 0.69),
			keyword:  keywordSays(category.Legal, 0.8),
			wantCat:  category.Legal,
			wantConf: 0.79,
			reason:   "agree",
		},
		{
			name:     "disagreement keeps keyword",
			llm:      llmSays(category.Legal, 0.6),
			keyword:  keywordSays(category.Financial, 0.55),
			wantCat:  category.Financial,
			wantConf: 0.65,
			reason:   "disagree",
		},
		{
			name:     "disagreement capped below llm threshold",
			llm:      llmSays(category.Legal, 0.6),
			keyword:  keywordSays(category.Financial, 0.8),
			wantCat:  category.Financial,
			wantConf: 0.7,
			reason:   "disagree",
		},
		{
			name:     "both low uses llm",
			llm:      llmSays(category.Technical, 0.4),
			keyword:  keywordSays(category.Financial, 0.3),
			wantCat:  category.Technical,
			wantConf: 0.4,
			reason:   "low confidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHybrid(tt.keyword, tt.llm, DefaultHybridConfig(), nil)

			res, err := h.Classify(context.Background(), longText)

			require.NoError(t, err)
			assert.Equal(t, tt.wantCat, res.Category)
			assert.InDelta(t, tt.wantConf, res.Confidence, 1e-9)
			assert.Contains(t, res.Reasoning, tt.reason)
			assert.Equal(t, NameHybrid, res.Classifier)
			assert.EqualValues(t, 1, tt.llm.calls.Load())
			assert.EqualValues(t, 1, tt.keyword.calls.Load())
		})
	}
}

func TestHybridLLMUnavailableReturnsKeywordVerbatim(t *testing.T) {
	kw := NewKeyword()
	llm := &stubClassifier{err: ErrLLMUnavailable}
	h := NewHybrid(kw, llm, DefaultHybridConfig(), nil)
	text := "This employment contract sets out the agreement between the company and the employee."

	res, err := h.Classify(context.Background(), text)
	require.NoError(t, err)

	want, _ := kw.Classify(context.Background(), text)
	sameVerdict(t, want, res)
	assert.EqualValues(t, 1, llm.calls.Load())
}

func TestHybridWithoutLLM(t *testing.T) {
	kw := keywordSays(category.Technical, 0.4)
	h := NewHybrid(kw, nil, DefaultHybridConfig(), nil)

	res, err := h.Classify(context.Background(), longText)

	require.NoError(t, err)
	sameVerdict(t, kw.result, res)
}

func TestHybridLLMTimeoutFallsBack(t *testing.T) {
	cfg := DefaultHybridConfig()
	cfg.LLMTimeout = 20 * time.Millisecond
	kw := keywordSays(category.HRDocs, 0.6)
	h := NewHybrid(kw, &stubClassifier{block: true}, cfg, nil)

	start := time.Now()
	res, err := h.Classify(context.Background(), longText)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	sameVerdict(t, kw.result, res)
}

func TestHybridRecoversFromPanic(t *testing.T) {
	h := NewHybrid(&stubClassifier{panics: true}, llmSays(category.Legal, 0.5), DefaultHybridConfig(), nil)

	res, err := h.Classify(context.Background(), longText)

	require.NoError(t, err)
	assert.Equal(t, category.General, res.Category)
	assert.Equal(t, 0.1, res.Confidence)
	assert.Contains(t, res.Reasoning, "boom")
}

func TestHybridKeywordErrorDegrades(t *testing.T) {
	kw := &stubClassifier{err: errors.New("broken")}
	h := NewHybrid(kw, nil, DefaultHybridConfig(), nil)

	res, err := h.Classify(context.Background(), longText)

	require.NoError(t, err)
	assert.Equal(t, category.General, res.Category)
	assert.Equal(t, 0.1, res.Confidence)
}

func TestArbitrateIsPure(t *testing.T) {
	cfg := DefaultHybridConfig()
	llm := &Result{Category: category.Legal, Confidence: 0.6, Reasoning: "llm"}
	kw := Result{Category: category.Legal, Confidence: 0.55, Reasoning: "kw"}

	first, branch := cfg.arbitrate(llm, kw)
	second, _ := cfg.arbitrate(llm, kw)

	assert.Equal(t, BranchAgreement, branch)
	assert.Equal(t, first, second)
	assert.Equal(t, 0.6, llm.Confidence, "inputs must not be mutated")

	got, branch := cfg.arbitrate(nil, kw)
	assert.Equal(t, BranchLLMUnavailable, branch)
	assert.Equal(t, kw, got)
}

func TestHybridConfidenceBounds(t *testing.T) {
	llms := []*stubClassifier{
		llmSays(category.Legal, 0.0),
		llmSays(category.Legal, 0.95),
		llmSays(category.Legal, 1.0),
		{err: errors.New("down")},
	}
	kws := []*stubClassifier{
		keywordSays(category.Legal, 0.8),
		keywordSays(category.Financial, 0.8),
		keywordSays(category.General, 0.1),
	}

	for _, l := range llms {
		for _, k := range kws {
			h := NewHybrid(k, l, DefaultHybridConfig(), nil)
			res, err := h.Classify(context.Background(), longText)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Confidence, 0.0)
			assert.LessOrEqual(t, res.Confidence, 1.0)
		}
	}
}
