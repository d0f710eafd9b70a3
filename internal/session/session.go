// Package session tracks recent routing decisions per conversation.
package session

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/docrouter/backend/internal/category"
)

const (
	keyPrefix     = "session:"
	contextWindow = 3
	topCategories = 3
)

var ErrStoreUnavailable = errors.New("session store unavailable")

// Store is a TTL-bearing key-value store. Implementations must report a
// missing key as found=false with a nil error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type QueryEntry struct {
	Query      string              `json:"query"`
	Categories []category.Category `json:"categories"`
	Timestamp  time.Time           `json:"timestamp"`
	Metadata   map[string]any      `json:"response_metadata,omitempty"`
}

// Context is derived from the history on every update.
type Context struct {
	RecentCategories  []category.Category       `json:"recent_categories"`
	CategoryFrequency map[category.Category]int `json:"category_frequency"`
	TotalQueries      int                       `json:"total_queries"`
	// SessionDuration is measured from the oldest retained history entry,
	// so it stops growing once history truncation kicks in.
	SessionDuration float64 `json:"session_duration"`
}

type Session struct {
	ID           string              `json:"id"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
	QueryHistory []QueryEntry        `json:"query_history"`
	Categories   []category.Category `json:"categories"`
	Context      Context             `json:"context"`
}

type Stats struct {
	SessionID         string              `json:"session_id"`
	CreatedAt         time.Time           `json:"created_at"`
	LastActivity      time.Time           `json:"last_activity"`
	TotalQueries      int                 `json:"total_queries"`
	CurrentCategories []category.Category `json:"current_categories"`
	AgeSeconds        float64             `json:"session_age_seconds"`
	Active            bool                `json:"is_active"`
}

func storeKey(id string) string {
	return keyPrefix + id
}

func deriveContext(history []QueryEntry, now time.Time) Context {
	if len(history) == 0 {
		return Context{CategoryFrequency: map[category.Category]int{}}
	}

	recent := history[max(0, len(history)-contextWindow):]
	counts := make(map[category.Category]int)
	lastSeen := make(map[category.Category]int)
	pos := 0
	for _, entry := range recent {
		for _, c := range entry.Categories {
			counts[c]++
			lastSeen[c] = pos
			pos++
		}
	}

	ranked := make([]category.Category, 0, len(counts))
	for c := range counts {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return lastSeen[a] > lastSeen[b]
	})
	if len(ranked) > topCategories {
		ranked = ranked[:topCategories]
	}

	return Context{
		RecentCategories:  ranked,
		CategoryFrequency: counts,
		TotalQueries:      len(history),
		SessionDuration:   now.Sub(history[0].Timestamp).Seconds(),
	}
}
