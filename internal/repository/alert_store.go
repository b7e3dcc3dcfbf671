package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/domain/repository"
	"OptionPilot/pkg/cache"
)

var ErrAlertNotFound = errors.New("alert not found")

const (
	alertPrefix   = "alert"
	alertIndexKey = "alerts:index"
)

// CacheAlertStore keeps alerts in the cache service without expiry so they
// survive restarts when Redis backs it.
type CacheAlertStore struct {
	c   cache.Service
	now func() time.Time
	mu  sync.Mutex
}

func NewCacheAlertStore(c cache.Service) *CacheAlertStore {
	return &CacheAlertStore{c: c, now: time.Now}
}

func (s *CacheAlertStore) Raise(ctx context.Context, a models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(ctx)
	if err != nil {
		return err
	}
	if err := s.c.Set(ctx, cache.Key(alertPrefix, a.ID), a, 0); err != nil {
		return fmt.Errorf("store alert: %w", err)
	}
	if err := s.c.Set(ctx, alertIndexKey, append(ids, a.ID), 0); err != nil {
		return fmt.Errorf("store alert index: %w", err)
	}
	return nil
}

// List returns all alerts, newest first.
func (s *CacheAlertStore) List(ctx context.Context) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Alert, 0, len(ids))
	for _, id := range ids {
		var a models.Alert
		if err := s.c.Get(ctx, cache.Key(alertPrefix, id), &a); err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				continue
			}
			return nil, fmt.Errorf("load alert %s: %w", id, err)
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *CacheAlertStore) Ack(ctx context.Context, id string) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cache.Key(alertPrefix, id)
	var a models.Alert
	if err := s.c.Get(ctx, key, &a); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.Alert{}, ErrAlertNotFound
		}
		return models.Alert{}, err
	}
	if !a.Acked {
		now := s.now()
		a.Acked = true
		a.AckedAt = &now
		if err := s.c.Set(ctx, key, a, 0); err != nil {
			return models.Alert{}, fmt.Errorf("ack alert: %w", err)
		}
	}
	return a, nil
}

func (s *CacheAlertStore) index(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.c.Get(ctx, alertIndexKey, &ids); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load alert index: %w", err)
	}
	return ids, nil
}

var _ repository.AlertStore = (*CacheAlertStore)(nil)
