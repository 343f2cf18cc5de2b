// README: In-memory ride store; per-ride mutex for writers, atomic snapshots for lock-free reads.
package ride

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"haulbid/internal/events"
	"haulbid/internal/types"
)

type memSnapshot struct {
	ride *Ride
	bids []*Bid
}

type memEntry struct {
	mu   sync.Mutex
	snap atomic.Pointer[memSnapshot]
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[types.ID]*memEntry
	sink  events.Sink
	log   *slog.Logger
	now   func() time.Time
}

func NewMemoryStore(sink events.Sink, log *slog.Logger) *MemoryStore {
	if sink == nil {
		sink = events.Discard
	}
	if log == nil {
		log = slog.Default()
	}
	return &MemoryStore{
		rides: map[types.ID]*memEntry{},
		sink:  sink,
		log:   log,
		now:   time.Now,
	}
}

// WithClock overrides the store clock used for lazy bid expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return ErrBadRequest
	}
	for _, e := range s.rides {
		snap := e.snap.Load()
		if snap.ride.CustomerID == r.CustomerID && !IsTerminal(snap.ride.Status) {
			return ErrActiveRide
		}
	}
	e := &memEntry{}
	e.snap.Store(&memSnapshot{ride: r.Clone()})
	s.rides[r.ID] = e
	return nil
}

func (s *MemoryStore) entry(id types.ID) (*memEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) InRide(ctx context.Context, rideID types.ID, fn func(u *Unit) error) error {
	e, err := s.entry(rideID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	u := newUnit(cur.ride.Clone(), cloneBids(cur.bids), s.now())
	if err := fn(u); err != nil {
		return err
	}
	if u.empty() {
		return u.rejected
	}

	e.snap.Store(&memSnapshot{ride: u.Ride.Clone(), bids: cloneBids(u.bids)})

	publish(ctx, s.sink, s.log, u.events)
	return u.rejected
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return e.snap.Load().ride.Clone(), nil
}

func (s *MemoryStore) ListBids(_ context.Context, rideID types.ID) ([]*Bid, error) {
	e, err := s.entry(rideID)
	if err != nil {
		return nil, err
	}
	return cloneBids(e.snap.Load().bids), nil
}

func (s *MemoryStore) RidesWithDueBids(_ context.Context, now time.Time, limit int) ([]types.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ID
	for id, e := range s.rides {
		for _, b := range e.snap.Load().bids {
			if b.IsExpired(now) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveLocation(ctx context.Context, rideID types.ID, sample types.LocationSample) error {
	return s.InRide(ctx, rideID, func(u *Unit) error {
		u.Ride.LastLocation = &sample
		u.Touch()
		return nil
	})
}

// publish hands committed events to the sink in order. A sink failure never
// undoes the committed change; subscribers recover by re-fetching state.
func publish(ctx context.Context, sink events.Sink, log *slog.Logger, evs []events.Event) {
	for _, ev := range evs {
		if err := sink.Publish(ctx, ev); err != nil {
			log.Warn("event publish failed", "ride_id", ev.RideID, "type", ev.Type, "err", err)
		}
	}
}
