package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/impact.report/internal/httputil"
	"github.com/banshee-data/impact.report/internal/impact/l1samples"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
	"github.com/banshee-data/impact.report/internal/monitoring"
)

const (
	streamReadLimit = 1 << 20
	pongWait        = 60 * time.Second
	pingPeriod      = 54 * time.Second
	writeWait       = 10 * time.Second
)

// StreamMessage is what a stream client sends: a batch of samples for one
// vehicle, or a ping.
type StreamMessage struct {
	Type      string       `json:"type"` // "samples" or "ping"
	VehicleID string       `json:"vehicle_id,omitempty"`
	Samples   []SampleJSON `json:"samples,omitempty"`
}

// StreamEvent is what the server sends back.
type StreamEvent struct {
	Type string      `json:"type"` // "result", "error" or "pong"
	Data interface{} `json:"data,omitempty"`
}

// streamConn serialises writes; arena actors call send concurrently.
type streamConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamConn) send(ev StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		monitoring.Logf("stream: write failed: %v", err)
	}
}

func (c *streamConn) sendError(msg string) {
	c.send(StreamEvent{Type: "error", Data: map[string]string{"message": msg}})
}

// streamHandler upgrades to a websocket and runs a private arena for the
// connection, so vehicle IDs from different clients never share a buffer.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	policy, err := s.resolvePolicy(r.URL.Query().Get("policy"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("stream: upgrade failed: %v", err)
		return
	}
	conn := &streamConn{conn: ws}
	defer ws.Close()

	cfg := s.stream
	cfg.Policy = policy
	arena := l7serving.NewArena(s.handle, cfg, func(res l7serving.Result) {
		conn.send(StreamEvent{Type: "result", Data: res})
		if s.db != nil {
			if err := s.db.RecordDetection(context.Background(), res); err != nil {
				monitoring.Logf("stream: failed to record detection: %v", err)
			}
		}
	})
	defer arena.Close()

	monitoring.Logf("stream: client %s connected (policy %s)", r.RemoteAddr, policy)
	defer monitoring.Logf("stream: client %s disconnected", r.RemoteAddr)

	ws.SetReadLimit(streamReadLimit)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go pingLoop(ws, done)

	ctx := r.Context()
	for {
		var msg StreamMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				monitoring.Logf("stream: read error: %v", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "ping":
			conn.send(StreamEvent{Type: "pong", Data: map[string]int64{"timestamp": time.Now().Unix()}})
		case "samples":
			if err := pushSamples(ctx, arena, msg); err != nil {
				conn.sendError(err.Error())
				if ctx.Err() != nil || errors.Is(err, l7serving.ErrArenaClosed) {
					return
				}
			}
		default:
			conn.sendError("unknown message type: " + msg.Type)
		}
	}
}

var errMissingTimestamp = errors.New("streamed samples must carry a timestamp")

func pushSamples(ctx context.Context, arena *l7serving.Arena, msg StreamMessage) error {
	for _, sj := range msg.Samples {
		if sj.Timestamp == nil {
			monitoring.ObserveRejectedSample("missing_timestamp")
			return errMissingTimestamp
		}
		vid := sj.VehicleID
		if vid == "" {
			vid = msg.VehicleID
		}
		err := arena.Push(ctx, l1samples.Sample{
			Timestamp: *sj.Timestamp,
			VehicleID: vid,
			AccelX:    sj.AccelX,
			AccelY:    sj.AccelY,
			AccelZ:    sj.AccelZ,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
