package repository

import (
	"context"
	"errors"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/domain/repository"
	"OptionPilot/pkg/cache"
)

const (
	dailyPrefix = "session:daily"
	cooldownKey = "session:cooldown"
	dailyTTL    = 48 * time.Hour
)

// CacheSessionStore persists daily stats and the trade cooldown.
type CacheSessionStore struct {
	c   cache.Service
	now func() time.Time
}

func NewCacheSessionStore(c cache.Service) *CacheSessionStore {
	return &CacheSessionStore{c: c, now: time.Now}
}

func (s *CacheSessionStore) LoadDaily(ctx context.Context, day string) (models.DailyStats, bool, error) {
	var st models.DailyStats
	if err := s.c.Get(ctx, cache.Key(dailyPrefix, day), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.DailyStats{}, false, nil
		}
		return models.DailyStats{}, false, err
	}
	return st, true, nil
}

func (s *CacheSessionStore) SaveDaily(ctx context.Context, stats models.DailyStats) error {
	return s.c.Set(ctx, cache.Key(dailyPrefix, stats.Day), stats, dailyTTL)
}

func (s *CacheSessionStore) SetCooldown(ctx context.Context, until time.Time) error {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return s.c.Delete(ctx, cooldownKey)
	}
	return s.c.Set(ctx, cooldownKey, until, ttl)
}

// Cooldown reports the stored cooldown deadline if it is still in the future.
func (s *CacheSessionStore) Cooldown(ctx context.Context) (time.Time, bool, error) {
	var until time.Time
	if err := s.c.Get(ctx, cooldownKey, &until); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if !until.After(s.now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

var _ repository.SessionStore = (*CacheSessionStore)(nil)
