package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrouter/backend/internal/rerank"
)

type fakeProvider struct {
	server     *httptest.Server
	chatHits   atomic.Int32
	embedHits  atomic.Int32
	failFirst  int32
	failStatus int
	lastPrompt atomic.Value
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{failStatus: http.StatusInternalServerError}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		n := p.chatHits.Add(1)
		if n <= p.failFirst {
			writeError(w, p.failStatus)
			return
		}

		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			p.lastPrompt.Store(req.Messages[len(req.Messages)-1].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": `{"category":"legal","confidence":0.9}`},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		n := p.embedHits.Add(1)
		if n <= p.failFirst {
			writeError(w, p.failStatus)
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		// Reverse the order to check that indices are honoured.
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i])), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-embed",
			"data":   data,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
}

func newTestClient(p *fakeProvider) *Client {
	c := NewClient(Config{
		APIKey:         "test",
		BaseURL:        p.server.URL + "/v1",
		Model:          "answer-model",
		EmbeddingModel: "embed-model",
		MaxTokens:      256,
		Timeout:        5 * time.Second,
	})
	c.retryConfig.InitialDelay = time.Millisecond
	c.retryConfig.MaxDelay = 2 * time.Millisecond
	return c
}

func TestComplete(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(p)

	out, err := c.Complete(context.Background(), "classify this")

	require.NoError(t, err)
	assert.JSONEq(t, `{"category":"legal","confidence":0.9}`, out)
	assert.Equal(t, "classify this", p.lastPrompt.Load())
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	p := newFakeProvider(t)
	p.failFirst = 2
	c := newTestClient(p)

	_, err := c.Complete(context.Background(), "x")

	require.NoError(t, err)
	assert.EqualValues(t, 3, p.chatHits.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	p := newFakeProvider(t)
	p.failFirst = 10
	p.failStatus = http.StatusBadRequest
	c := newTestClient(p)

	_, err := c.Complete(context.Background(), "x")

	require.Error(t, err)
	assert.EqualValues(t, 1, p.chatHits.Load())
}

func TestEmbedPreservesOrderAcrossBatches(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(p)

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = strings.Repeat("a", i%7+1)
	}

	vectors, err := c.Embed(context.Background(), texts)

	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0], "index %d", i)
	}
	assert.EqualValues(t, 3, p.embedHits.Load())
}

func TestEmbedEmpty(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(p)

	vectors, err := c.Embed(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, p.embedHits.Load())
}

func TestGenerateAnswerIncludesPassages(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(p)

	_, err := c.GenerateAnswer(context.Background(), "What is the notice period?", []rerank.Candidate{
		{Text: "Notice period is 30 days.", Metadata: map[string]any{"filename": "contract.pdf"}},
	})

	require.NoError(t, err)
	prompt := p.lastPrompt.Load().(string)
	assert.Contains(t, prompt, "What is the notice period?")
	assert.Contains(t, prompt, "[1] (contract.pdf)")
	assert.Contains(t, prompt, "Notice period is 30 days.")
}

func TestPing(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(p)

	assert.NoError(t, c.Ping(context.Background()))

	p.server.Close()
	assert.Error(t, c.Ping(context.Background()))
}
