package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/rider-dispatch/internal/models"
)

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over Coord pairs.
func Distance(from, to models.Coord) float64 {
	return Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
}

// EstimateSeconds is the naive ETA: distance / speed. The speed constant
// is a tunable, not a contract; a routing engine would refine it in prod.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return Distance(from, to) / speedMps
}

// RiderPos is a rider's last known position as seen by the backend index.
type RiderPos struct {
	RiderID string
	Loc     models.Coord
	Online  bool
	Updated time.Time
}

// RiderIndex is the minimal interface the dispatcher needs to place
// orders with nearby riders.
type RiderIndex interface {
	Upsert(riderID string, s models.LocationSample)
	SetOnline(riderID string, online bool)
	Nearest(lat, lon float64, limit int) []RiderPos
}

type Index struct {
	mu     sync.RWMutex
	riders map[string]RiderPos
}

func NewIndex() *Index {
	return &Index{riders: make(map[string]RiderPos)}
}

func (g *Index) Upsert(riderID string, s models.LocationSample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.riders[riderID]
	p.RiderID = riderID
	p.Loc = s.Coord()
	p.Updated = time.Now()
	g.riders[riderID] = p
}

func (g *Index) SetOnline(riderID string, online bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.riders[riderID]
	p.RiderID = riderID
	p.Online = online
	g.riders[riderID] = p
}

// naive scan; in prod use geo-hash or the redis-backed index
func (g *Index) Nearest(lat, lon float64, limit int) []RiderPos {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    RiderPos
		dist float64
	}
	arr := make([]pair, 0, len(g.riders))
	for _, p := range g.riders {
		if !p.Online {
			continue
		}
		arr = append(arr, pair{p, Haversine(lat, lon, p.Loc.Lat, p.Loc.Lon)})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]RiderPos, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out
}
