package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/metrics"
)

type Config struct {
	Timeout    time.Duration
	MaxHistory int
}

func DefaultConfig() Config {
	return Config{
		Timeout:    time.Hour,
		MaxHistory: 10,
	}
}

type Option func(*Manager)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns session lifecycle. The store handles expiry; Manager never
// assumes a session still exists. Concurrent updates to one session are
// last-writer-wins.
type Manager struct {
	store  Store
	config Config
	now    func() time.Time
	logger *zap.Logger
}

func NewManager(store Store, config Config, logger *zap.Logger, opts ...Option) *Manager {
	if config.MaxHistory < 1 {
		config.MaxHistory = DefaultConfig().MaxHistory
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		store:  store,
		config: config,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Create(ctx context.Context) (string, error) {
	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
		QueryHistory: []QueryEntry{},
		Categories:   []category.Category{},
		Context:      deriveContext(nil, now),
	}

	if err := m.save(ctx, s); err != nil {
		return "", err
	}

	metrics.SessionsCreated.Inc()
	m.logger.Info("Session created", zap.String("session_id", s.ID))
	return s.ID, nil
}

// Get returns nil with a nil error when the session does not exist. A
// record that cannot be decoded is treated as missing.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	data, found, err := m.store.Get(ctx, storeKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, id, err)
	}
	if !found {
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		m.logger.Warn("Discarding undecodable session",
			zap.String("session_id", id),
			zap.Error(err),
		)
		return nil, nil
	}
	return &s, nil
}

// Update appends a query to the session history, replacing the current
// category decision. A missing session is recreated in place.
func (m *Manager) Update(ctx context.Context, id, query string, categories []category.Category, metadata map[string]any) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	now := m.now()
	if s == nil {
		m.logger.Warn("Session not found, creating new one", zap.String("session_id", id))
		s = &Session{
			ID:        id,
			CreatedAt: now,
		}
	}

	cats := append([]category.Category(nil), categories...)
	s.LastActivity = now
	s.Categories = cats
	s.QueryHistory = append(s.QueryHistory, QueryEntry{
		Query:      query,
		Categories: cats,
		Timestamp:  now,
		Metadata:   metadata,
	})
	if over := len(s.QueryHistory) - m.config.MaxHistory; over > 0 {
		s.QueryHistory = append([]QueryEntry(nil), s.QueryHistory[over:]...)
	}
	s.Context = deriveContext(s.QueryHistory, now)

	if err := m.save(ctx, s); err != nil {
		return err
	}

	m.logger.Debug("Session updated",
		zap.String("session_id", id),
		zap.Strings("categories", category.Strings(cats)),
		zap.Int("history", len(s.QueryHistory)),
	)
	return nil
}

func (m *Manager) IsActive(ctx context.Context, id string) bool {
	s, err := m.Get(ctx, id)
	if err != nil || s == nil {
		return false
	}
	return m.active(s)
}

func (m *Manager) active(s *Session) bool {
	return m.now().Sub(s.LastActivity) < m.config.Timeout
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, storeKey(id)); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrStoreUnavailable, id, err)
	}
	m.logger.Info("Session deleted", zap.String("session_id", id))
	return nil
}

// Extend refreshes last activity and the store TTL. It reports false when
// the session no longer exists.
func (m *Manager) Extend(ctx context.Context, id string) (bool, error) {
	s, err := m.Get(ctx, id)
	if err != nil || s == nil {
		return false, err
	}

	s.LastActivity = m.now()
	if err := m.save(ctx, s); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) Context(ctx context.Context, id string) (*Context, error) {
	s, err := m.Get(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	return &s.Context, nil
}

func (m *Manager) Stats(ctx context.Context, id string) (*Stats, error) {
	s, err := m.Get(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}

	return &Stats{
		SessionID:         s.ID,
		CreatedAt:         s.CreatedAt,
		LastActivity:      s.LastActivity,
		TotalQueries:      len(s.QueryHistory),
		CurrentCategories: s.Categories,
		AgeSeconds:        m.now().Sub(s.CreatedAt).Seconds(),
		Active:            m.active(s),
	}, nil
}

// HealthCheck round-trips a throwaway session through the store.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	id, err := m.Create(ctx)
	if err != nil {
		m.logger.Warn("Session health check failed", zap.Error(err))
		return false
	}
	defer func() {
		if err := m.Delete(ctx, id); err != nil {
			m.logger.Warn("Failed to delete health check session", zap.Error(err))
		}
	}()

	s, err := m.Get(ctx, id)
	return err == nil && s != nil && s.ID == id
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	if err := m.store.Set(ctx, storeKey(s.ID), data, m.config.Timeout); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrStoreUnavailable, s.ID, err)
	}
	return nil
}
