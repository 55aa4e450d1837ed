package geo

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/parkswap/internal/models"
)

var puertaDelSol = models.Coord{Lat: 40.4168, Lon: -3.7038}

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestOffsetNorthRoundTrip(t *testing.T) {
	for _, m := range []float64{3, 4, 5, 6, 250} {
		got := Distance(puertaDelSol, OffsetNorth(puertaDelSol, m))
		assert.InDelta(t, m, got, 0.01, "offset %v m", m)
	}
}

func TestWithinRadius(t *testing.T) {
	far := &models.Alert{ID: "far", Loc: OffsetNorth(puertaDelSol, 900)}
	near := &models.Alert{ID: "near", Loc: OffsetNorth(puertaDelSol, 50)}
	mid := &models.Alert{ID: "mid", Loc: OffsetNorth(puertaDelSol, 300)}

	got := WithinRadius(puertaDelSol, 500, []*models.Alert{far, mid, near}, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Alert.ID)
	assert.Equal(t, "mid", got[1].Alert.ID)

	assert.Len(t, WithinRadius(puertaDelSol, 1000, []*models.Alert{far, mid, near}, 1), 1)
}

func TestIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	_, ok, err := idx.Position(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idx.Upsert(ctx, models.Position{UserID: "u1", Loc: puertaDelSol}))
	p, ok, _ := idx.Position(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, puertaDelSol, p.Loc)
	assert.False(t, p.Updated.IsZero())
}

func TestRedisGeo(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	g := NewRedisGeo(db, "positions")
	at := time.UnixMilli(1767225600000).UTC()

	mock.ExpectGeoAdd("positions", &redis.GeoLocation{Longitude: puertaDelSol.Lon, Latitude: puertaDelSol.Lat, Name: "u1"}).SetVal(1)
	mock.ExpectHSet("position:meta:u1", "updated", at.UnixMilli()).SetVal(1)
	require.NoError(t, g.Upsert(ctx, models.Position{UserID: "u1", Loc: puertaDelSol, Updated: at}))

	mock.ExpectGeoPos("positions", "u1").SetVal([]*redis.GeoPos{{Longitude: puertaDelSol.Lon, Latitude: puertaDelSol.Lat}})
	mock.ExpectHGet("position:meta:u1", "updated").SetVal("1767225600000")
	p, ok, err := g.Position(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at, p.Updated)
	assert.InDelta(t, puertaDelSol.Lat, p.Loc.Lat, 1e-9)

	mock.ExpectGeoPos("positions", "ghost").SetVal([]*redis.GeoPos{nil})
	_, ok, err = g.Position(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
