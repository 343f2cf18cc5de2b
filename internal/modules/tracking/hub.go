// README: Per-ride room registry; the Tracking Channel's events.Sink implementation.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"haulbid/internal/events"
	"haulbid/internal/metrics"
	"haulbid/internal/types"
)

const DefaultSendBuffer = 256

// Session is one authenticated connection. It joins at most one ride room.
type Session struct {
	ID    string
	Actor types.Actor

	send chan []byte
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	rideID types.ID
}

func NewSession(actor types.Actor, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		ID:    types.NewID().String(),
		Actor: actor,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// Outbound is the queue drained by the connection's writer.
func (s *Session) Outbound() <-chan []byte { return s.send }

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Close() { s.once.Do(func() { close(s.done) }) }

func (s *Session) Room() types.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rideID
}

func (s *Session) setRoom(id types.ID) {
	s.mu.Lock()
	s.rideID = id
	s.mu.Unlock()
}

// enqueue never blocks; false means the buffer is full or the session closed.
func (s *Session) enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

type member struct {
	customer bool
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[types.ID]map[*Session]member
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{rooms: make(map[types.ID]map[*Session]member), log: log}
}

// Join moves the session into rideID's room, leaving any previous room.
func (h *Hub) Join(s *Session, rideID types.ID, customer bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s)
	room := h.rooms[rideID]
	if room == nil {
		room = make(map[*Session]member)
		h.rooms[rideID] = room
	}
	room[s] = member{customer: customer}
	s.setRoom(rideID)
}

func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	h.leaveLocked(s)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(s *Session) {
	prev := s.Room()
	if prev == "" {
		return
	}
	if room := h.rooms[prev]; room != nil {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, prev)
		}
	}
	s.setRoom("")
}

// Members returns the number of sessions joined to a ride room.
func (h *Hub) Members(rideID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[rideID])
}

// Prune removes from rideID's room every session whose actor keep rejects.
// Pruned sessions stay open without a room.
func (h *Hub) Prune(rideID types.ID, keep func(types.Actor) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for s := range h.rooms[rideID] {
		if keep(s.Actor) {
			continue
		}
		h.leaveLocked(s)
		n++
	}
	return n
}

// Publish delivers ev to the ride's room. Location samples are dropped for a
// session whose buffer is full; any other event closes that session instead.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if len(ev.Parties) > 0 {
		if n := h.Prune(ev.RideID, func(a types.Actor) bool { return slices.Contains(ev.Parties, a.ID) }); n > 0 {
			h.log.Debug("pruned ride room", "ride_id", ev.RideID, "removed", n)
		}
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[ev.RideID]))
	for s, m := range h.rooms[ev.RideID] {
		if ev.ExcludeConn != "" && s.ID == ev.ExcludeConn {
			continue
		}
		if ev.Audience == events.AudienceCustomer && !m.customer {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if s.enqueue(msg) {
			continue
		}
		if ev.Type == events.TypeDriverLocation {
			metrics.LocationSamples.WithLabelValues("dropped").Inc()
			continue
		}
		h.log.Warn("closing slow consumer",
			"conn_id", s.ID, "user_id", s.Actor.ID, "ride_id", ev.RideID, "event", ev.Type)
		metrics.WSSlowConsumers.Inc()
		h.Leave(s)
		s.Close()
	}
	return nil
}

// Reply queues a direct message to one session, closing it when the buffer is full.
func (h *Hub) Reply(s *Session, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal reply", "conn_id", s.ID, "err", err)
		return
	}
	if !s.enqueue(msg) {
		metrics.WSSlowConsumers.Inc()
		h.Leave(s)
		s.Close()
	}
}
