package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/repository"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

var summaryCacheKey = PublicCacheKey("summary")

type summaryRepository interface {
	Totals(ctx context.Context) (*repository.SummaryTotals, error)
}

// PublicSummary is the cached payload served on the public transparency page.
type PublicSummary struct {
	Totals      repository.SummaryTotals `json:"totals"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// SummaryService aggregates the headline figures for the public pages,
// serving them from Redis when possible.
type SummaryService struct {
	repo   summaryRepository
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewSummaryService constructs a summary service.
func NewSummaryService(repo summaryRepository, cache *CacheService, ttl time.Duration, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SummaryService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Get returns the public summary, computing and caching it on a miss.
func (s *SummaryService) Get(ctx context.Context) (*PublicSummary, error) {
	var cached PublicSummary
	if hit, err := s.cache.Get(ctx, summaryCacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	totals, err := s.repo.Totals(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute summary")
	}

	summary := &PublicSummary{Totals: *totals, GeneratedAt: time.Now().UTC()}
	if err := s.cache.Set(ctx, summaryCacheKey, summary, s.ttl); err != nil {
		s.logger.Warn("failed to cache summary", zap.Error(err))
	}
	return summary, nil
}
