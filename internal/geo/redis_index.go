package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-sync/internal/models"
)

// RedisIndex implements Index on Redis GEO commands, shared between
// simulator replicas.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Upsert(loc models.DriverLocation) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Coordinate.Lng,
		Latitude:  loc.Coordinate.Lat,
		Name:      loc.DriverID,
	}).Result()
	_ = r.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"online":  strconv.FormatBool(loc.Online),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) Nearby(lat, lng float64, limit int) []models.DriverLocation {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: 10000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverLocation, 0, len(res))
	for _, g := range res {
		loc := models.DriverLocation{
			DriverID:   g.Name,
			Coordinate: models.Coordinate{Lat: g.Latitude, Lng: g.Longitude},
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["online"]; ok {
				loc.Online = v == "true"
			}
			if v, ok := m["updated"]; ok {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					loc.Updated = ts
				}
			}
		}
		out = append(out, loc)
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
