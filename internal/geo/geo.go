package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/parkswap/internal/models"
)

// Tracker is the minimal interface required by the geofence monitor and handlers.
type Tracker interface {
	Upsert(ctx context.Context, p models.Position) error
	Position(ctx context.Context, userID string) (models.Position, bool, error)
}

type Index struct {
	mu        sync.RWMutex
	positions map[string]models.Position
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]models.Position)}
}

func (g *Index) Upsert(_ context.Context, p models.Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	g.positions[p.UserID] = p
	return nil
}

func (g *Index) Position(_ context.Context, userID string) (models.Position, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.positions[userID]
	return p, ok, nil
}

// Ranked is an alert paired with its distance from a query point.
type Ranked struct {
	Alert          *models.Alert `json:"alert"`
	DistanceMeters float64       `json:"distance_m"`
}

// WithinRadius keeps the alerts located at most radius meters from center,
// nearest first. limit <= 0 means no limit.
func WithinRadius(center models.Coord, radius float64, alerts []*models.Alert, limit int) []Ranked {
	out := make([]Ranked, 0, len(alerts))
	for _, a := range alerts {
		d := Distance(center, a.Loc)
		if d > radius {
			continue
		}
		out = append(out, Ranked{Alert: a, DistanceMeters: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Distance is the great-circle distance between a and b in meters.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// OffsetNorth returns c moved meters due north.
func OffsetNorth(c models.Coord, meters float64) models.Coord {
	const metersPerDegree = 6371000.0 * math.Pi / 180
	return models.Coord{Lat: c.Lat + meters/metersPerDegree, Lon: c.Lon}
}
