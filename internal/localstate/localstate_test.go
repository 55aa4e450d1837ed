package localstate

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/parkswap/internal/models"
)

func TestMemoryStampsFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStamps()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := st.StampOnce(ctx, FinalizedKey("a1"), t0)
	require.NoError(t, err)
	second, err := st.StampOnce(ctx, FinalizedKey("a1"), t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, t0, first)
	assert.Equal(t, first, second)
}

func TestOrderingTimePrefersLocalStamp(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStamps()
	local := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	server := local.Add(-time.Hour)

	assert.Equal(t, server, OrderingTime(ctx, st, "a1", server))

	_, err := st.StampOnce(ctx, FinalizedKey("a1"), local)
	require.NoError(t, err)
	assert.Equal(t, local, OrderingTime(ctx, st, "a1", server))
	// a later server refresh does not move the stamp
	assert.Equal(t, local, OrderingTime(ctx, st, "a1", server.Add(5*time.Hour)))
}

func TestResolveCreatedAt(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStamps()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	good := &models.Alert{ID: "a1", CreatedAt: "2026-03-01T09:30:00Z"}
	got, err := ResolveCreatedAt(ctx, st, good, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*time.Minute), got)

	bad := &models.Alert{ID: "a2", CreatedAt: "yesterday-ish"}
	got, err = ResolveCreatedAt(ctx, st, bad, now)
	assert.ErrorIs(t, err, models.ErrMissingTimestamp)
	assert.Equal(t, now, got)

	// the substitute is pinned on later observations
	got, err = ResolveCreatedAt(ctx, st, bad, now.Add(10*time.Minute))
	assert.ErrorIs(t, err, models.ErrMissingTimestamp)
	assert.Equal(t, now, got)

	missing := &models.Alert{ID: "a3"}
	got, _ = ResolveCreatedAt(ctx, st, missing, now)
	assert.Equal(t, now, got)
}

func TestRedisStampsStampOnce(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	st := NewRedisStamps(db, "finalized_at")

	t0 := time.UnixMilli(1767225600000).UTC()
	mock.ExpectHSetNX("finalized_at", "finalized:a1", t0.UnixMilli()).SetVal(true)
	got, err := st.StampOnce(ctx, "finalized:a1", t0)
	require.NoError(t, err)
	assert.Equal(t, t0, got)

	later := t0.Add(time.Minute)
	mock.ExpectHSetNX("finalized_at", "finalized:a1", later.UnixMilli()).SetVal(false)
	mock.ExpectHGet("finalized_at", "finalized:a1").SetVal("1767225600000")
	got, err = st.StampOnce(ctx, "finalized:a1", later)
	require.NoError(t, err)
	assert.Equal(t, t0, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStampsGetMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	st := NewRedisStamps(db, "")
	mock.ExpectHGet("finalized_at", "x").RedisNil()

	_, ok, err := st.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryHidden(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHidden()
	require.NoError(t, h.Hide(ctx, "u1", "b"))
	require.NoError(t, h.Hide(ctx, "u1", "a"))
	require.NoError(t, h.Hide(ctx, "u1", "a"))

	ids, err := h.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	hidden, _ := h.IsHidden(ctx, "u2", "a")
	assert.False(t, hidden)
}

func TestRedisHidden(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	h := NewRedisHidden(db, "hidden:")

	mock.ExpectSAdd("hidden:u1", "a1").SetVal(1)
	mock.ExpectSIsMember("hidden:u1", "a1").SetVal(true)
	mock.ExpectSMembers("hidden:u1").SetVal([]string{"a2", "a1"})

	require.NoError(t, h.Hide(ctx, "u1", "a1"))
	ok, err := h.IsHidden(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	ids, err := h.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
