// README: WebSocket transport for the Tracking Channel (gorilla/websocket read/write pumps).
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"haulbid/internal/metrics"
	"haulbid/internal/modules/ride"
	"haulbid/internal/types"
)

const (
	DefaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
	maxMessageSize  = 8192
	opTimeout       = 5 * time.Second
)

const (
	msgJoin     = "join"
	msgLeave    = "leave"
	msgLocation = "location"
	msgPing     = "ping"
)

// inbound is the union of client message shapes.
type inbound struct {
	Type      string     `json:"type"`
	Ref       string     `json:"ref,omitempty"`
	RideID    types.ID   `json:"ride_id"`
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Speed     *float64   `json:"speed"`
	Heading   *float64   `json:"heading"`
	Timestamp *time.Time `json:"timestamp"`
}

type reply struct {
	Type   string   `json:"type"`
	Ref    string   `json:"ref,omitempty"`
	RideID types.ID `json:"ride_id,omitempty"`
	Data   any      `json:"data,omitempty"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TransportConfig struct {
	SendBuffer int
	PongWait   time.Duration
}

type Transport struct {
	svc      *Service
	cfg      TransportConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewTransport(svc *Service, cfg TransportConfig, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	return &Transport{
		svc: svc,
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is not a credential here; the bearer token is.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades an authenticated request and blocks until the connection ends.
func (t *Transport) Serve(w http.ResponseWriter, r *http.Request, actor types.Actor) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("ws upgrade failed", "user_id", actor.ID, "err", err)
		return
	}
	sess := NewSession(actor, t.cfg.SendBuffer)
	log := t.log.With("conn_id", sess.ID, "user_id", actor.ID)
	metrics.WSConnections.Inc()
	log.Info("ws connected", "role", actor.Role)

	go t.writePump(conn, sess)
	t.readPump(r.Context(), conn, sess, log)

	// Subscription goes away; ride and bid state are untouched.
	t.svc.Leave(sess)
	sess.Close()
	metrics.WSConnections.Dec()
	log.Info("ws disconnected")
}

func (t *Transport) readPump(ctx context.Context, conn *websocket.Conn, sess *Session, log *slog.Logger) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("ws read error", "err", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.sendError(sess, "", ride.ErrBadRequest, "malformed message")
			continue
		}
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		t.handle(opCtx, sess, msg, log)
		cancel()
	}
}

func (t *Transport) handle(ctx context.Context, sess *Session, msg inbound, log *slog.Logger) {
	hub := t.svc.Hub()
	switch msg.Type {
	case msgJoin:
		if msg.RideID == "" {
			t.sendError(sess, msg.Ref, ride.ErrBadRequest, "ride_id is required")
			return
		}
		if err := t.svc.Join(ctx, sess, msg.RideID); err != nil {
			t.sendError(sess, msg.Ref, err, "")
			return
		}
		hub.Reply(sess, reply{Type: "joined", Ref: msg.Ref, RideID: msg.RideID})

	case msgLeave:
		room := sess.Room()
		t.svc.Leave(sess)
		hub.Reply(sess, reply{Type: "left", Ref: msg.Ref, RideID: room})

	case msgLocation:
		if msg.Lat == nil || msg.Lng == nil {
			t.sendError(sess, msg.Ref, ride.ErrBadRequest, "lat and lng are required")
			return
		}
		rideID := msg.RideID
		if rideID == "" {
			rideID = sess.Room()
		}
		rep := LocationReport{
			Actor:  sess.Actor,
			ConnID: sess.ID,
			RideID: rideID,
			Sample: types.LocationSample{
				Point:   types.Point{Lat: *msg.Lat, Lng: *msg.Lng},
				Speed:   msg.Speed,
				Heading: msg.Heading,
			},
		}
		if msg.Timestamp != nil {
			rep.Sample.RecordedAt = msg.Timestamp.UTC()
		}
		if err := t.svc.ReportLocation(ctx, rep); err != nil {
			t.sendError(sess, msg.Ref, err, "")
		}

	case msgPing:
		hub.Reply(sess, reply{Type: "pong", Ref: msg.Ref})

	default:
		log.Debug("unknown message type", "type", msg.Type)
		t.sendError(sess, msg.Ref, ride.ErrBadRequest, "unknown message type")
	}
}

func (t *Transport) sendError(sess *Session, ref string, err error, message string) {
	code := ride.Code(err)
	switch {
	case message != "":
	case errors.Is(err, context.DeadlineExceeded):
		code, message = "TIMEOUT", "operation timed out"
	case code == "INTERNAL":
		message = "internal error"
		t.log.Error("tracking operation failed", "conn_id", sess.ID, "err", err)
	default:
		message = err.Error()
	}
	t.svc.Hub().Reply(sess, reply{Type: "error", Ref: ref, Data: errorData{Code: code, Message: message}})
}

func (t *Transport) writePump(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(t.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
