// README: Tracking service: room admission, driver location relay and throttled mirroring.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"haulbid/internal/events"
	"haulbid/internal/metrics"
	"haulbid/internal/modules/ride"
	"haulbid/internal/types"
)

// RideDirectory is the slice of the ride service the channel depends on.
type RideDirectory interface {
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	DriverHasBid(ctx context.Context, rideID, driverID types.ID) (bool, error)
	MirrorLocation(ctx context.Context, rideID types.ID, sample types.LocationSample) error
}

type Service struct {
	dir    RideDirectory
	hub    *Hub
	mirror Mirror
	log    *slog.Logger
	now    func() time.Time
}

func NewService(dir RideDirectory, hub *Hub, mirror Mirror, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if mirror == nil {
		mirror = NewMemoryThrottle(DefaultMirrorInterval)
	}
	return &Service{dir: dir, hub: hub, mirror: mirror, log: log, now: time.Now}
}

func (s *Service) Hub() *Hub { return s.hub }

// Join admits the session to the ride's room if the actor is party to it:
// the customer, the assigned driver, or a bidding driver while bids are open.
func (s *Service) Join(ctx context.Context, sess *Session, rideID types.ID) error {
	r, err := s.dir.Get(ctx, rideID)
	if err != nil {
		return err
	}
	customer, err := s.admit(ctx, r, sess.Actor)
	if err != nil {
		return err
	}
	s.hub.Join(sess, rideID, customer)
	s.log.Debug("joined ride room", "conn_id", sess.ID, "user_id", sess.Actor.ID, "ride_id", rideID)
	return nil
}

func (s *Service) admit(ctx context.Context, r *ride.Ride, actor types.Actor) (customer bool, err error) {
	switch {
	case r.CustomerID == actor.ID:
		return true, nil
	case r.IsAssignedDriver(actor.ID):
		return false, nil
	case r.Status == ride.StatusPendingBids && actor.Role == types.RoleDriver:
		ok, err := s.dir.DriverHasBid(ctx, r.ID, actor.ID)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	return false, ride.ErrForbidden
}

func (s *Service) Leave(sess *Session) {
	s.hub.Leave(sess)
}

type LocationReport struct {
	Actor  types.Actor
	ConnID string
	RideID types.ID
	Sample types.LocationSample
}

// ReportLocation relays a sample from the assigned driver to the rest of the
// room and mirrors it onto the ride at most once per throttle interval.
func (s *Service) ReportLocation(ctx context.Context, rep LocationReport) error {
	if !rep.Sample.Point.Valid() {
		metrics.LocationSamples.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: invalid coordinates", ride.ErrBadRequest)
	}
	if rep.Sample.RecordedAt.IsZero() {
		rep.Sample.RecordedAt = s.now().UTC()
	}

	r, err := s.dir.Get(ctx, rep.RideID)
	if err != nil {
		return err
	}
	if !r.IsAssignedDriver(rep.Actor.ID) || ride.IsTerminal(r.Status) {
		metrics.LocationSamples.WithLabelValues("forbidden").Inc()
		return ride.ErrForbidden
	}

	ev := events.New(events.TypeDriverLocation, rep.RideID, locationPayload(rep))
	ev.ExcludeConn = rep.ConnID
	if err := s.hub.Publish(ctx, ev); err != nil {
		return err
	}
	metrics.LocationSamples.WithLabelValues("accepted").Inc()

	s.mirrorSample(ctx, rep.RideID, rep.Sample)
	return nil
}

func (s *Service) mirrorSample(ctx context.Context, rideID types.ID, sample types.LocationSample) {
	if err := s.mirror.Record(ctx, rideID, sample); err != nil {
		s.log.Warn("record latest location failed", "ride_id", rideID, "err", err)
	}
	ok, err := s.mirror.Allow(ctx, rideID)
	if err != nil {
		s.log.Warn("mirror throttle failed", "ride_id", rideID, "err", err)
		return
	}
	if !ok {
		return
	}
	if err := s.dir.MirrorLocation(ctx, rideID, sample); err != nil && !errors.Is(err, ride.ErrNotFound) {
		s.log.Warn("mirror location failed", "ride_id", rideID, "err", err)
	}
}

type latestReader interface {
	Latest(ctx context.Context, rideID types.ID) (types.LocationSample, bool, error)
}

// Latest returns the freshest known sample, preferring the mirror's live copy
// over the throttled one stored on the ride.
func (s *Service) Latest(ctx context.Context, r *ride.Ride) *types.LocationSample {
	best := r.LastLocation
	lr, ok := s.mirror.(latestReader)
	if !ok {
		return best
	}
	live, found, err := lr.Latest(ctx, r.ID)
	if err != nil {
		s.log.Warn("read latest location failed", "ride_id", r.ID, "err", err)
		return best
	}
	if found && (best == nil || live.RecordedAt.After(best.RecordedAt)) {
		return &live
	}
	return best
}

func locationPayload(rep LocationReport) map[string]any {
	p := map[string]any{
		"ride_id":     rep.RideID,
		"driver_id":   rep.Actor.ID,
		"lat":         rep.Sample.Point.Lat,
		"lng":         rep.Sample.Point.Lng,
		"recorded_at": rep.Sample.RecordedAt,
	}
	if rep.Sample.Speed != nil {
		p["speed"] = *rep.Sample.Speed
	}
	if rep.Sample.Heading != nil {
		p["heading"] = *rep.Sample.Heading
	}
	return p
}
