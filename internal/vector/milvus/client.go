package milvus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/rerank"
	"github.com/docrouter/backend/pkg/logger"
	"github.com/docrouter/backend/pkg/utils"
)

const (
	fieldChunkID    = "chunk_id"
	fieldDocumentID = "document_id"
	fieldEmbedding  = "embedding"
	fieldText       = "text"
	fieldFilename   = "filename"
	fieldCategory   = "category"
	fieldChunkIndex = "chunk_index"
	fieldCreatedAt  = "created_at"

	maxTextRunes = 2000
)

var outputFields = []string{
	fieldChunkID, fieldDocumentID, fieldEmbedding, fieldText,
	fieldFilename, fieldCategory, fieldChunkIndex,
}

// Client stores document chunks in one partition per category. Embeddings
// are L2-normalised on insert so inner product equals cosine similarity.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type Chunk struct {
	ID         string
	DocumentID string
	Filename   string
	Text       string
	Index      int
	Embedding  []float32
	CreatedAt  time.Time
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) schema() *entity.Schema {
	varchar := func(name string, maxLen int, pk bool) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: pk,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
		}
	}

	return &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document chunks partitioned by category",
		Fields: []*entity.Field{
			varchar(fieldChunkID, 64, true),
			varchar(fieldDocumentID, 64, false),
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(m.vectorDim)},
			},
			varchar(fieldText, 8192, false),
			varchar(fieldFilename, 512, false),
			varchar(fieldCategory, 32, false),
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldCreatedAt, DataType: entity.FieldTypeInt64},
		},
	}
}

// EnsureCollection creates the collection, its index and one partition per
// category when missing, then loads it.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		if err := m.client.CreateCollection(ctx, m.schema(), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collectionName, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		logger.Info("Collection created", zap.String("collection", m.collectionName))
	}

	for _, c := range category.All() {
		exists, err := m.client.HasPartition(ctx, m.collectionName, string(c))
		if err != nil {
			return fmt.Errorf("failed to check partition %s: %w", c, err)
		}
		if exists {
			continue
		}
		if err := m.client.CreatePartition(ctx, m.collectionName, string(c)); err != nil {
			return fmt.Errorf("failed to create partition %s: %w", c, err)
		}
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection ready", zap.String("collection", m.collectionName))
	return nil
}

// Insert writes chunks into the partition of cat.
func (m *Client) Insert(ctx context.Context, cat category.Category, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if !cat.Valid() {
		return fmt.Errorf("unknown category %q", cat)
	}

	n := len(chunks)
	ids := make([]string, n)
	docIDs := make([]string, n)
	embeddings := make([][]float32, n)
	texts := make([]string, n)
	filenames := make([]string, n)
	categories := make([]string, n)
	indices := make([]int64, n)
	created := make([]int64, n)

	for i, chunk := range chunks {
		if len(chunk.Embedding) != m.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, want %d", chunk.ID, len(chunk.Embedding), m.vectorDim)
		}
		ids[i] = chunk.ID
		docIDs[i] = chunk.DocumentID
		embeddings[i] = utils.L2Normalize(chunk.Embedding)
		texts[i] = utils.Truncate(chunk.Text, maxTextRunes)
		filenames[i] = utils.Truncate(chunk.Filename, 500)
		categories[i] = string(cat)
		indices[i] = int64(chunk.Index)
		created[i] = chunk.CreatedAt.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		string(cat),
		entity.NewColumnVarChar(fieldChunkID, ids),
		entity.NewColumnVarChar(fieldDocumentID, docIDs),
		entity.NewColumnFloatVector(fieldEmbedding, m.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldFilename, filenames),
		entity.NewColumnVarChar(fieldCategory, categories),
		entity.NewColumnInt64(fieldChunkIndex, indices),
		entity.NewColumnInt64(fieldCreatedAt, created),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB",
		zap.String("category", string(cat)),
		zap.Int("count", n),
	)
	return nil
}

// Search returns the topK nearest chunks inside the partition of cat, with
// their stored embeddings so callers can rerank.
func (m *Client) Search(ctx context.Context, cat category.Category, vector []float32, topK int) ([]rerank.Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{string(cat)},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(utils.L2Normalize(vector))},
		fieldEmbedding,
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search partition %s: %w", cat, err)
	}

	var candidates []rerank.Candidate
	for _, sr := range results {
		if sr.Err != nil {
			return nil, fmt.Errorf("search result error: %w", sr.Err)
		}
		parsed, err := toCandidates(sr.Fields.GetColumn, sr.Scores, sr.ResultCount)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, parsed...)
	}

	logger.Debug("Vector search completed",
		zap.String("category", string(cat)),
		zap.Int("topK", topK),
		zap.Int("results", len(candidates)),
	)
	return candidates, nil
}

func toCandidates(column func(name string) entity.Column, scores []float32, count int) ([]rerank.Candidate, error) {
	vectors, ok := column(fieldEmbedding).(*entity.ColumnFloatVector)
	if !ok {
		return nil, fmt.Errorf("search result is missing the %s field", fieldEmbedding)
	}
	embeddings := vectors.Data()

	str := func(name string, i int) string {
		col := column(name)
		if col == nil {
			return ""
		}
		v, err := col.GetAsString(i)
		if err != nil {
			return ""
		}
		return v
	}

	out := make([]rerank.Candidate, 0, count)
	for i := 0; i < count && i < len(embeddings); i++ {
		var chunkIndex int64
		if col := column(fieldChunkIndex); col != nil {
			chunkIndex, _ = col.GetAsInt64(i)
		}
		var score float32
		if i < len(scores) {
			score = scores[i]
		}

		out = append(out, rerank.Candidate{
			Text:      str(fieldText, i),
			Embedding: embeddings[i],
			Metadata: map[string]any{
				"chunk_id":    str(fieldChunkID, i),
				"document_id": str(fieldDocumentID, i),
				"filename":    str(fieldFilename, i),
				"category":    str(fieldCategory, i),
				"chunk_index": chunkIndex,
				"score":       score,
			},
		})
	}
	return out, nil
}
