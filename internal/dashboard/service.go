package dashboard

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// Service serves cached dashboard stats.
type Service struct {
	repo   Repository
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a Repository with a Cache. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// Stats returns the KPIs of userID. Concurrent requests for the same cache
// key share one build.
func (s *Service) Stats(ctx context.Context, userID int64) (Stats, error) {
	key, err := s.cache.Key(ctx, userID)
	if err != nil {
		s.logger.Warn("dashboard cache unavailable", slog.Any("error", err))
		return s.build(ctx, userID)
	}
	if s.cache == nil || s.cache.client == nil {
		key = "dashboard:uncached:" + strconv.FormatInt(userID, 10)
	}

	resultChan := s.group.DoChan(key, func() (any, error) {
		buildCtx := context.WithoutCancel(ctx)
		st, err := s.cache.Fetch(buildCtx, key, func(ctx context.Context) (Stats, error) {
			return s.build(ctx, userID)
		})
		if err != nil && !st.GeneratedAt.IsZero() {
			s.logger.Warn("store dashboard cache", slog.String("key", key), slog.Any("error", err))
			return st, nil
		}
		return st, err
	})
	select {
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Stats{}, res.Err
		}
		return res.Val.(Stats), nil
	}
}

// Invalidate drops the cached stats of userID.
func (s *Service) Invalidate(ctx context.Context, userID int64) error {
	return s.cache.Invalidate(ctx, userID)
}

func (s *Service) build(ctx context.Context, userID int64) (Stats, error) {
	st, err := s.repo.Stats(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	if st.ByStatus == nil {
		st.ByStatus = map[string]int{}
	}
	if st.BySeverity == nil {
		st.BySeverity = map[string]int{}
	}
	st.GeneratedAt = s.now().UTC()
	return st, nil
}
