package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/classifier"
	"github.com/docrouter/backend/internal/evaluation"
	"github.com/docrouter/backend/internal/llm"
	"github.com/docrouter/backend/internal/storage/sqlite"
	"github.com/docrouter/backend/pkg/config"
	appLogger "github.com/docrouter/backend/pkg/logger"
)

func main() {
	datasetPath := flag.String("dataset", "testdata/classification.json", "path to a labelled dataset")
	mode := flag.String("classifier", classifier.NameKeyword, "classifier to evaluate: keyword, llm or hybrid")
	record := flag.Bool("record", false, "store the run in the SQLite database")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, "console", "stderr"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	cls, err := buildClassifier(cfg, *mode)
	if err != nil {
		appLogger.Fatal("Invalid classifier", zap.Error(err))
	}

	dataset, err := evaluation.LoadDataset(*datasetPath)
	if err != nil {
		appLogger.Fatal("Failed to load dataset", zap.Error(err))
	}

	var store evaluation.RunStore
	if *record {
		db, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to open database", zap.Error(err))
		}
		defer db.Close()
		if err := db.InitSchema(context.Background()); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		store = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := evaluation.NewEvaluator(cls, *mode, store, appLogger.Named("evaluation")).Run(ctx, dataset)
	if err != nil {
		appLogger.Fatal("Evaluation failed", zap.Error(err))
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			appLogger.Fatal("Failed to encode report", zap.Error(err))
		}
		return
	}
	fmt.Print(evaluation.FormatReport(report))
}

func buildClassifier(cfg *config.Config, mode string) (classifier.Classifier, error) {
	keyword := classifier.NewKeyword()
	if mode == classifier.NameKeyword {
		return keyword, nil
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		ClassifierModel: cfg.LLM.ClassifierModel,
		EmbeddingModel:  cfg.LLM.EmbeddingModel,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		Timeout:         time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	llmClassifier := classifier.NewLLM(llmClient, cfg.Classifier.MaxPreviewChars, appLogger.Named("llm_classifier"))

	switch mode {
	case classifier.NameLLM:
		return llmClassifier, nil
	case classifier.NameHybrid:
		return classifier.NewHybrid(keyword, llmClassifier, classifier.HybridConfig{
			LLMConfidenceThreshold:     cfg.Classifier.LLMConfidenceThreshold,
			KeywordConfidenceThreshold: cfg.Classifier.KeywordConfidenceThreshold,
			MinTextLength:              cfg.Classifier.MinTextLength,
			LLMTimeout:                 cfg.Classifier.LLMTimeout(),
		}, appLogger.Named("hybrid_classifier")), nil
	}
	return nil, fmt.Errorf("unknown classifier %q", mode)
}
