// README: Throttled mirroring of driver locations (in-process or Redis-coordinated).
package tracking

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"haulbid/internal/types"
)

const (
	DefaultMirrorInterval = 10 * time.Second
	latestLocationTTL     = time.Hour
)

// Mirror decides when a sample may be written through to the ride record
// and keeps the latest sample per ride.
type Mirror interface {
	Allow(ctx context.Context, rideID types.ID) (bool, error)
	Record(ctx context.Context, rideID types.ID, sample types.LocationSample) error
}

// MemoryThrottle allows one mirror write per ride per interval in this process.
type MemoryThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[types.ID]time.Time
	now      func() time.Time
}

func NewMemoryThrottle(interval time.Duration) *MemoryThrottle {
	if interval <= 0 {
		interval = DefaultMirrorInterval
	}
	return &MemoryThrottle{interval: interval, last: make(map[types.ID]time.Time), now: time.Now}
}

func (m *MemoryThrottle) WithClock(now func() time.Time) *MemoryThrottle {
	m.now = now
	return m
}

func (m *MemoryThrottle) Allow(_ context.Context, rideID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if t, ok := m.last[rideID]; ok && now.Sub(t) < m.interval {
		return false, nil
	}
	m.last[rideID] = now
	return true, nil
}

func (m *MemoryThrottle) Record(context.Context, types.ID, types.LocationSample) error { return nil }

// RedisMirror coordinates the throttle across API instances.
type RedisMirror struct {
	rdb      *redis.Client
	interval time.Duration
}

func NewRedisMirror(rdb *redis.Client, interval time.Duration) *RedisMirror {
	if interval <= 0 {
		interval = DefaultMirrorInterval
	}
	return &RedisMirror{rdb: rdb, interval: interval}
}

func throttleKey(rideID types.ID) string { return "haulbid:mirror:" + rideID.String() }

func LatestKey(rideID types.ID) string { return "haulbid:location:" + rideID.String() }

func (m *RedisMirror) Allow(ctx context.Context, rideID types.ID) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, throttleKey(rideID), 1, m.interval).Result()
	if err != nil {
		return false, fmt.Errorf("mirror throttle: %w", err)
	}
	return ok, nil
}

func (m *RedisMirror) Record(ctx context.Context, rideID types.ID, sample types.LocationSample) error {
	fields := map[string]any{
		"lat":         strconv.FormatFloat(sample.Point.Lat, 'f', -1, 64),
		"lng":         strconv.FormatFloat(sample.Point.Lng, 'f', -1, 64),
		"recorded_at": sample.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
	if sample.Speed != nil {
		fields["speed"] = strconv.FormatFloat(*sample.Speed, 'f', -1, 64)
	}
	if sample.Heading != nil {
		fields["heading"] = strconv.FormatFloat(*sample.Heading, 'f', -1, 64)
	}

	key := LatestKey(rideID)
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, latestLocationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record location: %w", err)
	}
	return nil
}

// Latest reads back the last recorded sample; ok is false when none exists.
func (m *RedisMirror) Latest(ctx context.Context, rideID types.ID) (types.LocationSample, bool, error) {
	vals, err := m.rdb.HGetAll(ctx, LatestKey(rideID)).Result()
	if err != nil {
		return types.LocationSample{}, false, fmt.Errorf("latest location: %w", err)
	}
	if len(vals) == 0 {
		return types.LocationSample{}, false, nil
	}
	var s types.LocationSample
	s.Point.Lat, _ = strconv.ParseFloat(vals["lat"], 64)
	s.Point.Lng, _ = strconv.ParseFloat(vals["lng"], 64)
	s.RecordedAt, _ = time.Parse(time.RFC3339Nano, vals["recorded_at"])
	if v, ok := vals["speed"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Speed = &f
		}
	}
	if v, ok := vals["heading"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Heading = &f
		}
	}
	return s, true, nil
}
