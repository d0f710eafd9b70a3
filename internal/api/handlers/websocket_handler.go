package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/middleware/validation"
	"github.com/docrouter/backend/internal/query"
	"github.com/docrouter/backend/pkg/logger"
)

// jsonWriter is the subset of *websocket.Conn used to stream frames.
type jsonWriter interface {
	WriteJSON(v interface{}) error
}

type WebSocketHandler struct {
	queryEngine QueryProcessor
	timeout     time.Duration
}

func NewWebSocketHandler(queryEngine QueryProcessor, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &WebSocketHandler{
		queryEngine: queryEngine,
		timeout:     timeout,
	}
}

type wsMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TopK      int    `json:"top_k"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		if err := h.handleMessage(c, msg); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) handleMessage(w jsonWriter, msg wsMessage) error {
	queryText := validation.Sanitize(msg.Content)
	if queryText == "" {
		h.sendError(w, "Query is required")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	return h.streamResponse(ctx, w, query.QueryRequest{
		Query:     queryText,
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
		TopK:      msg.TopK,
	})
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, w jsonWriter, req query.QueryRequest) error {
	if err := h.sendChunk(w, "status", "Processing query..."); err != nil {
		return err
	}

	response, err := h.queryEngine.ProcessQuery(ctx, req)
	if err != nil {
		return err
	}

	err = w.WriteJSON(map[string]interface{}{
		"type":       "routing",
		"categories": response.Categories,
		"follow_up":  response.FollowUp,
		"mode":       response.RoutingMode,
	})
	if err != nil {
		return err
	}

	words := splitIntoWords(response.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(w, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(w, response)
}

func (h *WebSocketHandler) sendChunk(w jsonWriter, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return w.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(w jsonWriter, response *query.QueryResponse) error {
	msg := map[string]interface{}{
		"type":       "complete",
		"message_id": response.ID,
		"categories": response.Categories,
		"sources":    response.Sources,
		"latency_ms": response.LatencyMS,
	}

	return w.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(w jsonWriter, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	if err := w.WriteJSON(msg); err != nil {
		logger.Debug("Failed to send error frame", zap.Error(err))
	}
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := []rune{}

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if len(currentWord) > 0 {
				words = append(words, string(currentWord))
				currentWord = currentWord[:0]
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord = append(currentWord, char)
		}
	}

	if len(currentWord) > 0 {
		words = append(words, string(currentWord))
	}

	return words
}
