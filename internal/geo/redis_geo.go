package geo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/parkswap/internal/models"
)

// RedisGeo implements Tracker using Redis GEO commands.
type RedisGeo struct {
	client redis.Cmdable
	key    string
}

func NewRedisGeo(client redis.Cmdable, key string) *RedisGeo {
	if key == "" {
		key = "positions"
	}
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, p models.Position) error {
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	// GEOADD for the point, a hash for metadata GEO cannot carry
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Lon, Latitude: p.Loc.Lat, Name: p.UserID}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(p.UserID), "updated", p.Updated.UnixMilli()).Err()
}

func (r *RedisGeo) Position(ctx context.Context, userID string) (models.Position, bool, error) {
	res, err := r.client.GeoPos(ctx, r.key, userID).Result()
	if err != nil {
		return models.Position{}, false, err
	}
	if len(res) == 0 || res[0] == nil {
		return models.Position{}, false, nil
	}
	p := models.Position{UserID: userID, Loc: models.Coord{Lat: res[0].Latitude, Lon: res[0].Longitude}}
	v, err := r.client.HGet(ctx, metaKey(userID), "updated").Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return models.Position{}, false, err
	default:
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			p.Updated = time.UnixMilli(ms).UTC()
		}
	}
	return p, true, nil
}

func metaKey(userID string) string { return "position:meta:" + userID }
