package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pastelcraft.ai/internal/observerproto"
	"pastelcraft.ai/internal/sim/pastel"
	"pastelcraft.ai/internal/sim/pastelnet"
	"pastelcraft.ai/internal/sim/tuning"
)

// Source is what the observer reads: the last published state and the
// tuning it runs with. *pastelnet.Manager satisfies it.
type Source interface {
	Latest() *pastelnet.State
	Tuning() tuning.Tuning
}

type ConnGauge interface {
	ConnOpened()
	ConnClosed()
}

type Server struct {
	src   Source
	log   *log.Logger
	conns ConnGauge

	upgrader websocket.Upgrader
}

func NewServer(src Source, logger *log.Logger, conns ConnGauge) *Server {
	return &Server{
		src:   src,
		log:   logger,
		conns: conns,
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

		tun := s.src.Tuning()
		st := s.src.Latest()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			TickRateHz:      tun.TickRateHz,
			TicksPerHop:     tun.TicksPerHop,
			NodeTypes:       nodeTypeNames(),
			Priorities:      []string{pastel.Generic.String(), pastel.Moderate.String(), pastel.High.String()},
		}
		if st != nil {
			resp.Tick = st.Tick
			resp.Digest = st.Digest
			resp.Networks = len(st.Networks)
			resp.Nodes = st.Nodes
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func nodeTypeNames() []string {
	types := pastel.NodeTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
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
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		if s.conns != nil {
			s.conns.ConnOpened()
			defer s.conns.ConnClosed()
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		subs := make(chan observerproto.SubscribeMsg, 1)
		writeErr := make(chan error, 1)
		go func() { writeErr <- s.stream(ctx, conn, sub, subs) }()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, ok := decodeSubscribe(msg)
			if !ok {
				continue
			}
			select {
			case subs <- next:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case err := <-writeErr:
			if err != nil && ctx.Err() == nil && s.log != nil {
				s.log.Printf("observer stream: %v", err)
			}
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// stream polls the published state once per tick interval and writes every
// new tick that matches the subscription.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, sub observerproto.SubscribeMsg, subs <-chan observerproto.SubscribeMsg) error {
	hz := s.src.Tuning().TickRateHz
	if hz <= 0 {
		hz = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	var lastSent uint64
	sent := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-subs:
			sub = next
		case <-ticker.C:
			st := s.src.Latest()
			if st == nil || (sent && st.Tick == lastSent) {
				continue
			}
			if sent && st.Tick-lastSent < uint64(sub.EveryTicks) {
				continue
			}
			b, err := json.Marshal(observerproto.NewNetworkState(*st).ForWorld(sub.World))
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
			lastSent, sent = st.Tick, true
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	if sub.EveryTicks <= 0 {
		sub.EveryTicks = 1
	}
	if sub.EveryTicks > 1200 {
		sub.EveryTicks = 1200
	}
	sub.World = strings.TrimSpace(sub.World)
	return sub, true
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
