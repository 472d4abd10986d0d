package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world"
)

// Source is what the observer reads from and steers.
type Source interface {
	Config() tuning.Tuning
	CurrentTick() uint64
	SystemNames() []string
	Metrics() world.WorldMetrics
	SetInRange(participantID string, inRange bool) error
	Leave(participantID string) error
}

type Server struct {
	src Source
	log *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(src Source, logger *log.Logger) *Server {
	return &Server{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.src.Config()
		ids := make([]string, 0, len(cfg.Participants))
		for _, p := range cfg.Participants {
			ids = append(ids, p.ID)
		}
		resp := BootstrapResponse{
			ProtocolVersion: Version,
			Tick:            s.src.CurrentTick(),
			TickRateHz:      cfg.TickRateHz,
			Seed:            cfg.Seed,
			Item:            cfg.Item,
			Scenario:        cfg.Scenario.Kind,
			Participants:    ids,
			Systems:         s.src.SystemNames(),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub ClientMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		interval := make(chan time.Duration, 1)
		interval <- normalizeInterval(sub.IntervalMS)
		acks := make(chan AckMsg, 16)

		// Writer goroutine; the only one that writes data frames.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.writeLoop(ctx, conn, interval, acks)
		}()

		// Reader loop: interval updates and steering commands.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var m ClientMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			switch m.Type {
			case "SUBSCRIBE":
				select {
				case <-interval:
				default:
				}
				interval <- normalizeInterval(m.IntervalMS)
				continue
			case "SET_IN_RANGE":
				err = s.src.SetInRange(m.Participant, m.InRange)
			case "LEAVE":
				err = s.src.Leave(m.Participant)
			default:
				continue
			}
			ack := AckMsg{Type: "ACK", Ref: m.Type, OK: err == nil}
			if err != nil {
				ack.Reason = err.Error()
				if errors.Is(err, world.ErrBusy) {
					ack.Reason = "busy"
				}
			}
			select {
			case acks <- ack:
			default:
				// Client is not draining; drop the ack.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, interval <-chan time.Duration, acks <-chan AckMsg) error {
	ticker := time.NewTicker(<-interval)
	defer ticker.Stop()

	var lastTick uint64
	sent := false
	write := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-interval:
			ticker.Reset(d)
		case a := <-acks:
			if err := write(a); err != nil {
				return err
			}
		case <-ticker.C:
			m := s.src.Metrics()
			if sent && m.Tick == lastTick {
				continue
			}
			if err := write(MetricsMsg{Type: "METRICS", ProtocolVersion: Version, Metrics: m}); err != nil {
				if s.log != nil {
					s.log.Printf("observer write: %v", err)
				}
				return err
			}
			lastTick, sent = m.Tick, true
		}
	}
}

func normalizeInterval(ms int) time.Duration {
	if ms <= 0 {
		ms = 500
	}
	if ms < 50 {
		ms = 50
	}
	if ms > 60_000 {
		ms = 60_000
	}
	return time.Duration(ms) * time.Millisecond
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
