package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/classifier"
	"github.com/docrouter/backend/internal/metrics"
	"github.com/docrouter/backend/internal/storage/models"
)

type RunStore interface {
	InsertEvaluationRun(ctx context.Context, run *models.EvaluationRun) error
}

// Evaluator measures a classifier against a labelled dataset.
type Evaluator struct {
	classifier classifier.Classifier
	name       string
	store      RunStore
	logger     *zap.Logger
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Text     string `json:"text"`
	Expected string `json:"expected"`
}

type CategoryAccuracy struct {
	Category category.Category `json:"category"`
	Total    int               `json:"total"`
	Correct  int               `json:"correct"`
	Accuracy float64           `json:"accuracy"`
}

type Report struct {
	Classifier    string                                          `json:"classifier"`
	Total         int                                             `json:"total"`
	Correct       int                                             `json:"correct"`
	Errors        int                                             `json:"errors"`
	Skipped       int                                             `json:"skipped"`
	Accuracy      float64                                         `json:"accuracy"`
	AvgConfidence float64                                         `json:"avg_confidence"`
	AvgLatencyMS  float64                                         `json:"avg_latency_ms"`
	PerCategory   []CategoryAccuracy                              `json:"per_category"`
	Confusion     map[category.Category]map[category.Category]int `json:"confusion"`
}

// NewEvaluator labels results and metrics with name. store may be nil.
func NewEvaluator(cls classifier.Classifier, name string, store RunStore, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		classifier: cls,
		name:       name,
		store:      store,
		logger:     logger,
	}
}

// Run classifies every item and compares the result with its expected label.
// Items with an unknown expected label are skipped. Classifier errors count
// as misses.
func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	e.logger.Info("Running classifier evaluation",
		zap.String("classifier", e.name),
		zap.Int("items", len(dataset.Items)),
	)

	report := &Report{
		Classifier: e.name,
		Confusion:  make(map[category.Category]map[category.Category]int),
	}
	perCategory := make(map[category.Category]*CategoryAccuracy)

	var totalConfidence float64
	var totalLatency time.Duration

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		expected, ok := category.Parse(item.Expected)
		if !ok {
			e.logger.Warn("Skipping item with unknown label",
				zap.Int("index", i),
				zap.String("expected", item.Expected),
			)
			report.Skipped++
			continue
		}

		report.Total++
		acc := perCategory[expected]
		if acc == nil {
			acc = &CategoryAccuracy{Category: expected}
			perCategory[expected] = acc
		}
		acc.Total++

		start := time.Now()
		result, err := e.classifier.Classify(ctx, item.Text)
		totalLatency += time.Since(start)
		if err != nil {
			e.logger.Error("Failed to classify item", zap.Int("index", i), zap.Error(err))
			report.Errors++
			continue
		}

		totalConfidence += result.Confidence
		if report.Confusion[expected] == nil {
			report.Confusion[expected] = make(map[category.Category]int)
		}
		report.Confusion[expected][result.Category]++

		if result.Category == expected {
			report.Correct++
			acc.Correct++
		}
	}

	if report.Total > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Total)
		report.AvgLatencyMS = float64(totalLatency.Milliseconds()) / float64(report.Total)
	}
	if classified := report.Total - report.Errors; classified > 0 {
		report.AvgConfidence = totalConfidence / float64(classified)
	}

	for _, cat := range category.All() {
		acc, ok := perCategory[cat]
		if !ok {
			continue
		}
		acc.Accuracy = float64(acc.Correct) / float64(acc.Total)
		report.PerCategory = append(report.PerCategory, *acc)
	}

	metrics.ClassificationAccuracy.WithLabelValues(e.name).Set(report.Accuracy)

	if e.store != nil {
		run := &models.EvaluationRun{
			Classifier: e.name,
			Total:      report.Total,
			Correct:    report.Correct,
			Accuracy:   report.Accuracy,
			CreatedAt:  time.Now(),
		}
		if err := e.store.InsertEvaluationRun(ctx, run); err != nil {
			e.logger.Warn("Failed to store evaluation run", zap.Error(err))
		}
	}

	e.logger.Info("Classifier evaluation completed",
		zap.String("classifier", e.name),
		zap.Int("total", report.Total),
		zap.Int("correct", report.Correct),
		zap.Float64("accuracy", report.Accuracy),
	)

	return report, nil
}

func ParseDataset(data []byte) (*Dataset, error) {
	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return ParseDataset(data)
}

func FormatReport(report *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, `
Classifier Evaluation Report
============================

Classifier: %s
Items: %d (skipped %d, errors %d)
Accuracy: %.1f%% (%d/%d)
Average Confidence: %.3f
Average Latency: %.1f ms

Per Category:
`,
		report.Classifier,
		report.Total, report.Skipped, report.Errors,
		report.Accuracy*100, report.Correct, report.Total,
		report.AvgConfidence,
		report.AvgLatencyMS,
	)

	for _, acc := range report.PerCategory {
		fmt.Fprintf(&b, "- %-10s %5.1f%% (%d/%d)\n", acc.Category, acc.Accuracy*100, acc.Correct, acc.Total)
	}

	b.WriteString("\nConfusion (expected -> predicted):\n")
	for _, expected := range category.All() {
		row, ok := report.Confusion[expected]
		if !ok {
			continue
		}
		var cells []string
		for _, predicted := range category.All() {
			if n := row[predicted]; n > 0 {
				cells = append(cells, fmt.Sprintf("%s=%d", predicted, n))
			}
		}
		fmt.Fprintf(&b, "- %-10s %s\n", expected, strings.Join(cells, ", "))
	}

	return b.String()
}
