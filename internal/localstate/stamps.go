// Package localstate holds client-side state that must outlive unreliable
// record refreshes from the entity store.
//
// Precedence rule for ordering: a Finalized-At stamp, once written, is the
// authority for when a record finished. Server fields (updated_at, created_at)
// are only consulted when no stamp exists, and a missing or malformed server
// created_at is replaced by the first locally observed time, stamped once.
package localstate

import (
	"context"
	"sync"
	"time"

	"github.com/example/parkswap/internal/models"
)

// Stamps is a first-write-wins map from id to instant.
type Stamps interface {
	// StampOnce records at for id unless a stamp already exists, and returns
	// the stored instant either way.
	StampOnce(ctx context.Context, id string, at time.Time) (time.Time, error)
	Get(ctx context.Context, id string) (time.Time, bool, error)
}

// MemoryStamps keeps stamps in process memory.
type MemoryStamps struct {
	m sync.Map // id -> time.Time
}

func NewMemoryStamps() *MemoryStamps { return &MemoryStamps{} }

func (s *MemoryStamps) StampOnce(ctx context.Context, id string, at time.Time) (time.Time, error) {
	v, _ := s.m.LoadOrStore(id, at.UTC().Truncate(time.Millisecond))
	return v.(time.Time), nil
}

func (s *MemoryStamps) Get(ctx context.Context, id string) (time.Time, bool, error) {
	v, ok := s.m.Load(id)
	if !ok {
		return time.Time{}, false, nil
	}
	return v.(time.Time), true, nil
}

// FinalizedKey is the stamp id for a terminal transition of an alert or request.
func FinalizedKey(id string) string { return "finalized:" + id }

// CreatedKey is the stamp id used to pin a substitute created_at.
func CreatedKey(id string) string { return "created:" + id }

// ResolveCreatedAt parses the alert's server created_at. When it is absent or
// malformed, the first observed local time is stamped and returned together
// with models.ErrMissingTimestamp so callers can log the substitution.
func ResolveCreatedAt(ctx context.Context, st Stamps, a *models.Alert, now time.Time) (time.Time, error) {
	if t, ok := parseServerTime(a.CreatedAt); ok {
		return t, nil
	}
	t, err := st.StampOnce(ctx, CreatedKey(a.ID), now)
	if err != nil {
		return now, err
	}
	return t, models.ErrMissingTimestamp
}

// OrderingTime returns the instant used to sort a finished record: the local
// Finalized-At stamp when present, else the server value.
func OrderingTime(ctx context.Context, st Stamps, id string, server time.Time) time.Time {
	if t, ok, err := st.Get(ctx, FinalizedKey(id)); err == nil && ok {
		return t
	}
	return server
}

var serverLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseServerTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range serverLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
