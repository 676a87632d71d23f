package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/rider-dispatch/internal/models"
)

// RedisIndex implements RiderIndex using Redis GEO commands, so rider
// positions survive dispatcher restarts and can be shared across
// instances.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(riderID string, s models.LocationSample) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: s.Lon, Latitude: s.Lat, Name: riderID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(riderID), map[string]interface{}{
		"bearing": strconv.FormatFloat(s.Bearing, 'f', 1, 64),
		"speed":   strconv.FormatFloat(s.Speed, 'f', 1, 64),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) SetOnline(riderID string, online bool) {
	_ = r.client.HSet(r.ctx, metaKey(riderID), map[string]interface{}{
		"online": strconv.FormatBool(online),
	}).Err()
}

func (r *RedisIndex) Nearest(lat, lon float64, limit int) []RiderPos {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: 10000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]RiderPos, 0, len(res))
	for _, g := range res {
		p := RiderPos{RiderID: g.Name}
		p.Loc.Lat = g.Latitude
		p.Loc.Lon = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["online"]; ok {
				p.Online = v == "true"
			}
			if v, ok := m["updated"]; ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					p.Updated = t
				}
			}
		}
		if !p.Online {
			continue
		}
		out = append(out, p)
	}
	return out
}

func metaKey(id string) string { return "rider:meta:" + id }
