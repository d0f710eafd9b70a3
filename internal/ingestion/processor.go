package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/classifier"
	"github.com/docrouter/backend/internal/metrics"
	"github.com/docrouter/backend/internal/storage/models"
	"github.com/docrouter/backend/internal/storage/sqlite"
	"github.com/docrouter/backend/internal/vector/milvus"
	"github.com/docrouter/backend/pkg/utils"
)

var (
	ErrEmptyDocument = errors.New("no text content in document")

	whitespace = regexp.MustCompile(`\s+`)
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Insert(ctx context.Context, cat category.Category, chunks []milvus.Chunk) error
}

type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error
	FindDocumentByHash(ctx context.Context, hash string) (*models.Document, error)
}

type Config struct {
	ChunkSize        int
	OverlapSentences int
}

func DefaultConfig() Config {
	return Config{ChunkSize: 1000, OverlapSentences: 1}
}

type DocumentInput struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type IngestResult struct {
	DocumentID     string            `json:"document_id"`
	Filename       string            `json:"filename"`
	Classification classifier.Result `json:"classification"`
	ChunkCount     int               `json:"chunk_count"`
	Duplicate      bool              `json:"duplicate"`
	ProcessingMS   int64             `json:"processing_ms"`
}

type Processor struct {
	classifier classifier.Classifier
	embedder   Embedder
	vectors    VectorStore
	documents  DocumentStore
	config     Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewProcessor(cls classifier.Classifier, embedder Embedder, vectors VectorStore, documents DocumentStore, config Config, logger *zap.Logger) *Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.OverlapSentences < 0 {
		config.OverlapSentences = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		classifier: cls,
		embedder:   embedder,
		vectors:    vectors,
		documents:  documents,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessDocument classifies a document, chunks it, and indexes the chunks
// under the document's category. Content already ingested is reported as a
// duplicate without being re-indexed.
func (p *Processor) ProcessDocument(ctx context.Context, input DocumentInput) (*IngestResult, error) {
	start := p.now()
	p.logger.Info("Processing document",
		zap.String("filename", input.Filename),
		zap.String("content_type", input.ContentType),
	)

	text := input.Content
	if isHTML(input) {
		text = cleanHTML(text)
	}
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if text == "" {
		return nil, ErrEmptyDocument
	}

	hash := utils.ContentKey("document", utils.NormalizeText(text))
	existing, err := p.documents.FindDocumentByHash(ctx, hash)
	switch {
	case err == nil:
		p.logger.Info("Document already ingested", zap.String("doc_id", existing.ID))
		return &IngestResult{
			DocumentID: existing.ID,
			Filename:   existing.Filename,
			Classification: classifier.Result{
				Category:   existing.Category,
				Confidence: existing.Confidence,
				Reasoning:  existing.Reasoning,
				Classifier: existing.Classifier,
			},
			ChunkCount:   existing.ChunkCount,
			Duplicate:    true,
			ProcessingMS: p.now().Sub(start).Milliseconds(),
		}, nil
	case !errors.Is(err, sqlite.ErrNotFound):
		return nil, fmt.Errorf("failed to check for duplicate: %w", err)
	}

	result, err := p.classifier.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to classify document: %w", err)
	}

	chunks := p.chunkText(text)
	p.logger.Info("Document chunked",
		zap.Int("chunks", len(chunks)),
		zap.String("category", result.Category.String()),
	)

	embeddings, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	docID := utils.HashString(input.Filename + "\x00" + hash)
	createdAt := p.now()

	vectorChunks := make([]milvus.Chunk, len(chunks))
	dbChunks := make([]models.DocumentChunk, len(chunks))
	for i, chunkText := range chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", docID, i)
		vectorChunks[i] = milvus.Chunk{
			ID:         chunkID,
			DocumentID: docID,
			Filename:   input.Filename,
			Text:       chunkText,
			Index:      i,
			Embedding:  embeddings[i],
			CreatedAt:  createdAt,
		}
		dbChunks[i] = models.DocumentChunk{
			ID:         chunkID,
			DocID:      docID,
			ChunkIndex: i,
			Text:       chunkText,
			CreatedAt:  createdAt,
		}
	}

	if err := p.vectors.Insert(ctx, result.Category, vectorChunks); err != nil {
		return nil, fmt.Errorf("failed to insert into vector DB: %w", err)
	}

	doc := &models.Document{
		ID:          docID,
		Filename:    input.Filename,
		ContentType: input.ContentType,
		ContentHash: hash,
		Category:    result.Category,
		Confidence:  result.Confidence,
		Classifier:  result.Classifier,
		Reasoning:   result.Reasoning,
		CreatedAt:   createdAt,
	}
	if err := p.documents.InsertDocument(ctx, doc, dbChunks); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	metrics.DocumentsIngested.WithLabelValues(result.Category.String()).Inc()

	p.logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.String("category", result.Category.String()),
		zap.Float64("confidence", result.Confidence),
		zap.Int("chunks", len(chunks)),
	)

	return &IngestResult{
		DocumentID:     docID,
		Filename:       input.Filename,
		Classification: result,
		ChunkCount:     len(chunks),
		ProcessingMS:   p.now().Sub(start).Milliseconds(),
	}, nil
}

func isHTML(input DocumentInput) bool {
	if strings.Contains(strings.ToLower(input.ContentType), "html") {
		return true
	}
	switch strings.ToLower(filepath.Ext(input.Filename)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Find("body").Text()
}

func splitSentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return []string{text}
	}

	var sentences []string
	for _, s := range doc.Sentences() {
		if t := strings.TrimSpace(s.Text); t != "" {
			sentences = append(sentences, t)
		}
	}
	if len(sentences) == 0 {
		return []string{text}
	}
	return sentences
}

// chunkText packs whole sentences into chunks of at most ChunkSize bytes,
// repeating the trailing OverlapSentences of a chunk at the start of the next.
// Sentences longer than ChunkSize are split on word boundaries.
func (p *Processor) chunkText(text string) []string {
	var units []string
	for _, s := range splitSentences(text) {
		if len(s) > p.config.ChunkSize {
			units = append(units, splitWords(s, p.config.ChunkSize)...)
			continue
		}
		units = append(units, s)
	}

	var chunks []string
	var current []string
	size, fresh := 0, 0

	flush := func() {
		chunks = append(chunks, strings.Join(current, " "))
		keep := min(p.config.OverlapSentences, len(current))
		current = append([]string(nil), current[len(current)-keep:]...)
		size = joinedLen(current)
		fresh = 0
	}

	for _, unit := range units {
		if len(current) > 0 && size+1+len(unit) > p.config.ChunkSize {
			if fresh > 0 {
				flush()
			}
			if len(current) > 0 && size+1+len(unit) > p.config.ChunkSize {
				current, size = nil, 0
			}
		}
		if len(current) > 0 {
			size++
		}
		current = append(current, unit)
		size += len(unit)
		fresh++
	}

	if fresh > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

func splitWords(text string, limit int) []string {
	var parts []string
	var b strings.Builder

	for _, word := range strings.Fields(text) {
		if b.Len() > 0 && b.Len()+1+len(word) > limit {
			parts = append(parts, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}

	return parts
}

func joinedLen(parts []string) int {
	if len(parts) == 0 {
		return 0
	}
	n := len(parts) - 1
	for _, p := range parts {
		n += len(p)
	}
	return n
}
