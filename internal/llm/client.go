package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/metrics"
	"github.com/docrouter/backend/internal/rerank"
	"github.com/docrouter/backend/pkg/logger"
	"github.com/docrouter/backend/pkg/retry"
)

const embeddingBatchSize = 100

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	ClassifierModel string
	EmbeddingModel  string
	Temperature     float32
	MaxTokens       int
	Timeout         time.Duration
}

type Client struct {
	client      *openai.Client
	config      Config
	chatCB      *gobreaker.CircuitBreaker[any]
	embedCB     *gobreaker.CircuitBreaker[any]
	retryConfig retry.Config
}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(config Config) *Client {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ClassifierModel == "" {
		config.ClassifierModel = config.Model
	}

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      isRetryable,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", config.Model),
		zap.String("classifier_model", config.ClassifierModel),
		zap.String("embedding_model", config.EmbeddingModel),
	)

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		config:      config,
		chatCB:      newBreaker("llm_chat"),
		embedCB:     newBreaker("llm_embed"),
		retryConfig: retryConfig,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (c *Client) execute(ctx context.Context, cb *gobreaker.CircuitBreaker[any], call string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	_, err := cb.Execute(func() (any, error) {
		return nil, retry.Do(ctx, c.retryConfig, fn)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ExternalCallDuration.WithLabelValues(call, status).Observe(time.Since(start).Seconds())
	return err
}

// Complete runs a single-prompt completion with the classifier model. It
// satisfies classifier.Completer.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Chat(ctx, CompletionRequest{
		Model:       c.config.ClassifierModel,
		UserPrompt:  prompt,
		Temperature: 0.1,
		MaxTokens:   300,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) Chat(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.config.Temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	var result *CompletionResponse

	err := c.execute(ctx, c.chatCB, "chat", func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(
			ctx,
			openai.ChatCompletionRequest{
				Model:       model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("completion returned no choices")
		}

		logger.Debug("LLM completion generated",
			zap.String("model", model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Embed returns one vector per text in input order, batching requests. It
// satisfies routing.Embedder.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := min(i+embeddingBatchSize, len(texts))
		batch := texts[i:end]

		var vectors [][]float32
		err := c.execute(ctx, c.embedCB, "embed", func(ctx context.Context) error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.config.EmbeddingModel),
				},
			)
			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(batch))
			}

			vectors = make([][]float32, len(batch))
			for _, data := range resp.Data {
				if data.Index < 0 || data.Index >= len(batch) {
					return fmt.Errorf("embedding response index %d out of range", data.Index)
				}
				vectors[data.Index] = data.Embedding
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		embeddings = append(embeddings, vectors...)
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

const answerSystemPrompt = `You are a document assistant for an internal knowledge base of legal, technical, financial, HR and general documents.

Your answers must:
1. Be based ONLY on the provided passages
2. Cite passages using [n] notation
3. Say so plainly when the passages do not contain the answer

Be concise and precise.`

func (c *Client) GenerateAnswer(ctx context.Context, query string, passages []rerank.Candidate) (string, error) {
	var b strings.Builder
	for i, p := range passages {
		source, _ := p.Metadata["filename"].(string)
		if source == "" {
			source = "unknown"
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, source, p.Text)
	}

	userPrompt := fmt.Sprintf(`Question: %s

Passages:
%s
Answer the question using the passages above.`, query, b.String())

	resp, err := c.Chat(ctx, CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.2,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	logger.Info("Answer generated",
		zap.Int("passages", len(passages)),
		zap.Int("answer_length", len(resp.Content)),
	)

	return resp.Content, nil
}

// Ping is a cheap reachability probe that bypasses retry.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("llm provider unreachable: %w", err)
	}
	return nil
}

func statusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

// isRetryable accepts rate limiting, server errors and transport failures.
func isRetryable(err error) bool {
	if IsCircuitOpen(err) {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return true
}

func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return true
}
