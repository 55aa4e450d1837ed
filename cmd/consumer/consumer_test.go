package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/parkswap/internal/models"
)

// fakeTracker fails the first failUpserts calls.
type fakeTracker struct {
	mu          sync.Mutex
	failUpserts int
	calls       int
	positions   map[string]models.Position
}

func (f *fakeTracker) Upsert(ctx context.Context, p models.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUpserts {
		return errors.New("geo fail")
	}
	if f.positions == nil {
		f.positions = make(map[string]models.Position)
	}
	f.positions[p.UserID] = p
	return nil
}

func (f *fakeTracker) Position(ctx context.Context, userID string) (models.Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[userID]
	return p, ok, nil
}

func TestApplyWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeTracker{failUpserts: 2}
	p := models.Position{UserID: "u1", Loc: models.Coord{Lat: 1, Lon: 2}}
	start := time.Now()
	require.NoError(t, applyWithRetry(context.Background(), f, p, 3, 10*time.Millisecond))
	assert.Equal(t, 3, f.calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestApplyWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeTracker{failUpserts: 5}
	err := applyWithRetry(context.Background(), f, models.Position{UserID: "u1"}, 3, 5*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 3, f.calls)
}

func TestApplyWithRetryStopsOnCancel(t *testing.T) {
	f := &fakeTracker{failUpserts: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := applyWithRetry(ctx, f, models.Position{UserID: "u1"}, 3, time.Second)
	assert.Error(t, err)
	assert.Equal(t, 1, f.calls)
}

// scriptedReader replays msgs and then blocks until ctx is done.
type scriptedReader struct {
	msgs []kafka.Message
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeWritesPositions(t *testing.T) {
	good, err := json.Marshal(models.Position{Loc: models.Coord{Lat: 40.4, Lon: -3.7}})
	require.NoError(t, err)
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := &scriptedReader{msgs: []kafka.Message{
		{Key: []byte("buyer"), Value: good, Time: sent},
		{Value: []byte("not json")},
	}}
	f := &fakeTracker{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	consume(ctx, r, f, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p, ok, _ := f.Position(context.Background(), "buyer")
	require.True(t, ok)
	assert.Equal(t, 40.4, p.Loc.Lat)
	assert.True(t, sent.Equal(p.Updated))
	assert.Equal(t, 1, f.calls)
}
