package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/pkg/utils"
)

// Embedder turns texts into vectors, preserving input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingCache avoids recomputing prototype embeddings across restarts.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// DefaultLoadTimeout bounds a shared first-use prototype embedding.
const DefaultLoadTimeout = 30 * time.Second

// Prototypes holds one embedding per category, computed at most once per
// process. Concurrent first use of a category shares a single embedding call
// that outlives any one caller; each caller still stops waiting when its own
// context ends.
type Prototypes struct {
	embedder    Embedder
	cache       EmbeddingCache
	logger      *zap.Logger
	loadTimeout time.Duration

	mu      sync.RWMutex
	vectors map[category.Category][]float32
	group   singleflight.Group
}

type PrototypeOption func(*Prototypes)

// WithLoadTimeout bounds the shared embedding call made on first use.
func WithLoadTimeout(d time.Duration) PrototypeOption {
	return func(p *Prototypes) {
		if d > 0 {
			p.loadTimeout = d
		}
	}
}

// NewPrototypes builds an empty set. cache may be nil.
func NewPrototypes(embedder Embedder, cache EmbeddingCache, logger *zap.Logger, opts ...PrototypeOption) *Prototypes {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Prototypes{
		embedder:    embedder,
		cache:       cache,
		logger:      logger,
		loadTimeout: DefaultLoadTimeout,
		vectors:     make(map[category.Category][]float32, len(category.All())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func prototypeKey(c category.Category) string {
	return utils.ContentKey("prototype:"+string(c), category.Prototype(c))
}

func (p *Prototypes) lookup(c category.Category) ([]float32, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.vectors[c]
	return v, ok
}

func (p *Prototypes) store(c category.Category, v []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectors[c] = v
}

// Get returns the prototype embedding of c, computing it on first use.
func (p *Prototypes) Get(ctx context.Context, c category.Category) ([]float32, error) {
	if v, ok := p.lookup(c); ok {
		return v, nil
	}

	ch := p.group.DoChan(string(c), func() (any, error) {
		if v, ok := p.lookup(c); ok {
			return v, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.loadTimeout)
		defer cancel()

		if v, ok := p.fromCache(loadCtx, c); ok {
			p.store(c, v)
			return v, nil
		}

		vectors, err := p.embedder.Embed(loadCtx, []string{category.Prototype(c)})
		if err != nil {
			return nil, fmt.Errorf("failed to embed %s prototype: %w", c, err)
		}
		if len(vectors) != 1 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("embedder returned no vector for %s prototype", c)
		}

		p.store(c, vectors[0])
		p.toCache(loadCtx, c, vectors[0])
		return vectors[0], nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

// All returns every prototype in declared category order.
func (p *Prototypes) All(ctx context.Context) ([][]float32, error) {
	cats := category.All()
	out := make([][]float32, len(cats))
	for i, c := range cats {
		v, err := p.Get(ctx, c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Warm loads every missing prototype, consulting the cache first and
// embedding the remainder in one batch.
func (p *Prototypes) Warm(ctx context.Context) error {
	var (
		missing []category.Category
		texts   []string
	)
	for _, c := range category.All() {
		if _, ok := p.lookup(c); ok {
			continue
		}
		if v, ok := p.fromCache(ctx, c); ok {
			p.store(c, v)
			continue
		}
		missing = append(missing, c)
		texts = append(texts, category.Prototype(c))
	}
	if len(missing) == 0 {
		return nil
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed prototypes: %w", err)
	}
	if len(vectors) != len(missing) {
		return fmt.Errorf("embedder returned %d vectors for %d prototypes", len(vectors), len(missing))
	}

	for i, c := range missing {
		if len(vectors[i]) == 0 {
			return fmt.Errorf("embedder returned no vector for %s prototype", c)
		}
		p.store(c, vectors[i])
		p.toCache(ctx, c, vectors[i])
	}

	p.logger.Info("Category prototypes loaded", zap.Int("embedded", len(missing)))
	return nil
}

// Loaded reports whether every category has a prototype.
func (p *Prototypes) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range category.All() {
		if _, ok := p.vectors[c]; !ok {
			return false
		}
	}
	return true
}

func (p *Prototypes) fromCache(ctx context.Context, c category.Category) ([]float32, bool) {
	if p.cache == nil {
		return nil, false
	}
	v, found, err := p.cache.GetEmbedding(ctx, prototypeKey(c))
	if err != nil {
		p.logger.Warn("Prototype cache lookup failed", zap.String("category", string(c)), zap.Error(err))
		return nil, false
	}
	if !found || len(v) == 0 {
		return nil, false
	}
	return v, true
}

func (p *Prototypes) toCache(ctx context.Context, c category.Category, v []float32) {
	if p.cache == nil {
		return
	}
	// Prototype text is fixed, so the entry never needs to expire.
	if err := p.cache.SetEmbedding(ctx, prototypeKey(c), v, 0); err != nil {
		p.logger.Warn("Failed to cache prototype", zap.String("category", string(c)), zap.Error(err))
	}
}
