package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

// Every cached payload lives under the public namespace: the only readers
// are the unauthenticated transparency endpoints, and admin mutations
// invalidate the whole namespace at once rather than tracking which entity
// feeds which payload.
const publicCacheNamespace = "public"

// PublicCacheKey builds a namespaced key for a public transparency payload.
func PublicCacheKey(parts ...string) string {
	return publicCacheNamespace + ":" + strings.Join(parts, ":")
}

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService fronts the cache repository with hit/miss accounting. A nil
// service, a nil repository, or enabled=false all degrade to a cache that
// never hits, so callers need no guards.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache
// was hit; a miss and a disabled cache are indistinguishable to the caller.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	elapsed := time.Since(start)
	if err == nil {
		s.metrics.RecordCacheOperation(true, elapsed)
		return true, nil
	}
	s.metrics.RecordCacheOperation(false, elapsed)
	if errors.Is(err, appErrors.ErrCacheMiss) {
		return false, nil
	}
	if s.logger != nil {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return false, err
}

// Set stores the value in cache, falling back to the default TTL when the
// caller passes none.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil && s.logger != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// InvalidatePublic drops every cached public payload. Entity services call
// this after any mutation that could change what the transparency endpoints
// serve.
func (s *CacheService) InvalidatePublic(ctx context.Context) error {
	return s.Invalidate(ctx, publicCacheNamespace+":*")
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		if s.logger != nil {
			s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		}
		return err
	}
	return nil
}
