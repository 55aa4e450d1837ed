package localstate

import (
	"context"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// HiddenCards is the per-user set of alert ids dismissed from list views.
type HiddenCards interface {
	Hide(ctx context.Context, userID, alertID string) error
	IsHidden(ctx context.Context, userID, alertID string) (bool, error)
	List(ctx context.Context, userID string) ([]string, error)
}

type MemoryHidden struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

func NewMemoryHidden() *MemoryHidden {
	return &MemoryHidden{sets: make(map[string]map[string]struct{})}
}

func (m *MemoryHidden) Hide(ctx context.Context, userID, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[userID]
	if !ok {
		set = make(map[string]struct{})
		m.sets[userID] = set
	}
	set[alertID] = struct{}{}
	return nil
}

func (m *MemoryHidden) IsHidden(ctx context.Context, userID, alertID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sets[userID][alertID]
	return ok, nil
}

func (m *MemoryHidden) List(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sets[userID]))
	for id := range m.sets[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// RedisHidden keeps one SET per user under prefix+userID.
type RedisHidden struct {
	client redis.Cmdable
	prefix string
}

func NewRedisHidden(client redis.Cmdable, prefix string) *RedisHidden {
	if prefix == "" {
		prefix = "hidden:"
	}
	return &RedisHidden{client: client, prefix: prefix}
}

func (r *RedisHidden) Hide(ctx context.Context, userID, alertID string) error {
	return r.client.SAdd(ctx, r.prefix+userID, alertID).Err()
}

func (r *RedisHidden) IsHidden(ctx context.Context, userID, alertID string) (bool, error) {
	return r.client.SIsMember(ctx, r.prefix+userID, alertID).Result()
}

func (r *RedisHidden) List(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.prefix+userID).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
