// Package routing maps a query to the categories most likely to answer it.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/metrics"
	"github.com/docrouter/backend/internal/session"
	"github.com/docrouter/backend/pkg/utils"
)

const (
	ModeSemantic = "semantic"
	ModeFollowUp = "follow_up"
	ModeFallback = "fallback"
)

var DefaultFollowUpCues = []string{"what about", "tell me more", "also", "can you", "thanks"}

// Sessions is the slice of session.Manager the router needs.
type Sessions interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Update(ctx context.Context, id, query string, categories []category.Category, metadata map[string]any) error
}

type Config struct {
	SimilarityThreshold float64
	MaxCategories       int
	EmbedTimeout        time.Duration
	QueryCacheSize      int
	FollowUpCues        []string
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.3,
		MaxCategories:       3,
		EmbedTimeout:        10 * time.Second,
		QueryCacheSize:      1024,
		FollowUpCues:        DefaultFollowUpCues,
	}
}

type Decision struct {
	Categories   []category.Category           `json:"categories"`
	Similarities map[category.Category]float64 `json:"similarities,omitempty"`
	QueryVector  []float32                     `json:"-"`
	FollowUp     bool                          `json:"follow_up"`
	Mode         string                        `json:"mode"`
	Timestamp    time.Time                     `json:"timestamp"`
}

type Router struct {
	embedder   Embedder
	prototypes *Prototypes
	sessions   Sessions
	config     Config
	cues       []string
	queryCache *lru.Cache[string, []float32]
	now        func() time.Time
	logger     *zap.Logger
}

// NewRouter wires a router. sessions may be nil, which disables the
// follow-up shortcut and decision recording.
func NewRouter(embedder Embedder, prototypes *Prototypes, sessions Sessions, config Config, logger *zap.Logger) (*Router, error) {
	if config.MaxCategories < 1 {
		return nil, fmt.Errorf("max categories must be at least 1, got %d", config.MaxCategories)
	}
	if config.QueryCacheSize <= 0 {
		config.QueryCacheSize = DefaultConfig().QueryCacheSize
	}
	if config.FollowUpCues == nil {
		config.FollowUpCues = DefaultFollowUpCues
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, []float32](config.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding cache: %w", err)
	}

	cues := make([]string, 0, len(config.FollowUpCues))
	for _, cue := range config.FollowUpCues {
		if cue = strings.ToLower(strings.TrimSpace(cue)); cue != "" {
			cues = append(cues, cue)
		}
	}

	return &Router{
		embedder:   embedder,
		prototypes: prototypes,
		sessions:   sessions,
		config:     config,
		cues:       cues,
		queryCache: cache,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Route returns 1..MaxCategories categories ordered by descending
// similarity. It never fails; problems degrade to [general].
func (r *Router) Route(ctx context.Context, query, sessionID string) []category.Category {
	return r.Decide(ctx, query, sessionID).Categories
}

// Decide is Route with the evidence behind the decision.
func (r *Router) Decide(ctx context.Context, query, sessionID string) Decision {
	start := r.now()
	d := r.decide(ctx, query, sessionID)
	d.Timestamp = start

	metrics.RoutingDuration.WithLabelValues(d.Mode).Observe(time.Since(start).Seconds())
	for _, c := range d.Categories {
		metrics.RoutingTotal.WithLabelValues(string(c), d.Mode).Inc()
	}
	return d
}

func (r *Router) decide(ctx context.Context, query, sessionID string) Decision {
	if sessionID != "" && r.sessions != nil && r.IsFollowUp(query) {
		s, err := r.sessions.Get(ctx, sessionID)
		if err != nil {
			r.logger.Warn("Session lookup failed, routing semantically",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
		if s != nil && len(s.Categories) > 0 {
			return Decision{
				Categories: append([]category.Category(nil), s.Categories...),
				FollowUp:   true,
				Mode:       ModeFollowUp,
			}
		}
	}

	embedCtx := ctx
	if r.config.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, r.config.EmbedTimeout)
		defer cancel()
	}

	vector, err := r.QueryVector(embedCtx, query)
	if err != nil {
		r.logger.Warn("Query embedding failed, routing to general", zap.Error(err))
		return fallbackDecision()
	}

	prototypes, err := r.prototypes.All(embedCtx)
	if err != nil {
		r.logger.Warn("Prototype embeddings unavailable, routing to general", zap.Error(err))
		return fallbackDecision()
	}

	cats := category.All()
	similarities := make(map[category.Category]float64, len(cats))
	for i, c := range cats {
		similarities[c] = utils.CosineSimilarity(vector, prototypes[i])
	}

	d := Decision{
		Categories:   r.selectCategories(cats, similarities),
		Similarities: similarities,
		QueryVector:  vector,
		Mode:         ModeSemantic,
	}

	if sessionID != "" && r.sessions != nil {
		metadata := map[string]any{
			"similarities": similarityMetadata(similarities),
			"routed_at":    r.now().UTC().Format(time.RFC3339Nano),
		}
		if err := r.sessions.Update(ctx, sessionID, query, d.Categories, metadata); err != nil {
			r.logger.Warn("Failed to record routing decision",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	return d
}

// selectCategories orders by similarity, keeping declared order on ties,
// and applies the threshold and cap.
func (r *Router) selectCategories(cats []category.Category, similarities map[category.Category]float64) []category.Category {
	ranked := append([]category.Category(nil), cats...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return similarities[ranked[i]] > similarities[ranked[j]]
	})

	selected := make([]category.Category, 0, r.config.MaxCategories)
	for _, c := range ranked {
		if similarities[c] < r.config.SimilarityThreshold {
			break
		}
		selected = append(selected, c)
		if len(selected) == r.config.MaxCategories {
			break
		}
	}

	if len(selected) == 0 {
		return []category.Category{category.General}
	}
	return selected
}

// IsFollowUp reports whether the query contains a follow-up cue.
func (r *Router) IsFollowUp(query string) bool {
	q := strings.ToLower(query)
	for _, cue := range r.cues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	return false
}

// QueryVector embeds a single query, serving repeats from the LRU. The
// embedding call is bounded by EmbedTimeout.
func (r *Router) QueryVector(ctx context.Context, query string) ([]float32, error) {
	if v, ok := r.queryCache.Get(query); ok {
		metrics.CacheHits.WithLabelValues("query_embedding").Inc()
		return v, nil
	}
	metrics.CacheMisses.WithLabelValues("query_embedding").Inc()

	if r.config.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.EmbedTimeout)
		defer cancel()
	}

	start := time.Now()
	vectors, err := r.embedder.Embed(ctx, []string{query})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ExternalCallDuration.WithLabelValues("embed_query", status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, errors.New("embedder returned no vector for query")
	}

	r.queryCache.Add(query, vectors[0])
	return vectors[0], nil
}

// HealthCheck reports whether prototypes are loaded and the embedder answers.
func (r *Router) HealthCheck(ctx context.Context) bool {
	if !r.prototypes.Loaded() {
		return false
	}
	if _, err := r.embedder.Embed(ctx, []string{"health check"}); err != nil {
		r.logger.Warn("Router health check failed", zap.Error(err))
		return false
	}
	return true
}

func fallbackDecision() Decision {
	return Decision{
		Categories: []category.Category{category.General},
		Mode:       ModeFallback,
	}
}

func similarityMetadata(similarities map[category.Category]float64) map[string]float64 {
	out := make(map[string]float64, len(similarities))
	for c, s := range similarities {
		out[string(c)] = s
	}
	return out
}
