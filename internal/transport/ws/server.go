package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pastelcraft.ai/internal/protocol"
	"pastelcraft.ai/internal/sim/pastel"
	"pastelcraft.ai/internal/sim/pastelnet"
	"pastelcraft.ai/internal/sim/tuning"
)

// Registry is the edit sink behind the socket. *pastelnet.Manager satisfies
// it.
type Registry interface {
	Submit(pastelnet.Edit) error
	Latest() *pastelnet.State
	Tuning() tuning.Tuning
}

type ConnGauge interface {
	ConnOpened()
	ConnClosed()
}

type Options struct {
	// Token, when set, must match HELLO auth.token.
	Token        string
	TuningDigest string
	Conns        ConnGauge
}

type Server struct {
	reg  Registry
	log  *log.Logger
	opts Options

	upgrader websocket.Upgrader
}

func NewServer(reg Registry, logger *log.Logger, opts Options) *Server {
	return &Server{
		reg:  reg,
		log:  logger,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, ok := s.handshake(conn)
		if !ok {
			return
		}
		if s.opts.Conns != nil {
			s.opts.Conns.ConnOpened()
			defer s.opts.Conns.ConnClosed()
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan []byte, 64)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ack := s.handleMessage(msg)
			b, _ := json.Marshal(ack)
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		if s.log != nil {
			s.log.Printf("session %s closed", sessionID)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return "", false
	}
	if !supportsVersion(hello) {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return "", false
	}
	if s.opts.Token != "" {
		token := ""
		if hello.Auth != nil {
			token = strings.TrimSpace(hello.Auth.Token)
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
			closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
			return "", false
		}
	}

	tun := s.reg.Tuning()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		Params: protocol.ServerParams{
			TickRateHz:   tun.TickRateHz,
			TicksPerHop:  tun.TicksPerHop,
			NodeTypes:    nodeTypeNames(),
			Priorities:   []string{pastel.Generic.String(), pastel.Moderate.String(), pastel.High.String()},
			TuningDigest: s.opts.TuningDigest,
		},
	}
	if st := s.reg.Latest(); st != nil {
		welcome.ServerTick = st.Tick
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", false
	}
	if s.log != nil {
		name := hello.ClientName
		if name == "" {
			name = "client"
		}
		s.log.Printf("session %s opened by %s", welcome.SessionID, name)
	}
	return welcome.SessionID, true
}

func supportsVersion(h protocol.HelloMsg) bool {
	if h.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range h.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

// handleMessage turns one client frame into its ACK.
func (s *Server) handleMessage(msg []byte) protocol.AckMsg {
	ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version}
	if st := s.reg.Latest(); st != nil {
		ack.ServerTick = st.Tick
	}
	reject := func(code, message string) protocol.AckMsg {
		ack.Code = code
		ack.Message = message
		return ack
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return reject(protocol.ErrProtoBadRequest, "malformed json")
	}
	if base.Type != protocol.TypeEdit {
		return reject(protocol.ErrProtoBadRequest, "unsupported message type "+base.Type)
	}
	var m protocol.EditMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return reject(protocol.ErrProtoBadRequest, "malformed EDIT")
	}
	ack.AckFor = m.EditID
	if m.ProtocolVersion != protocol.Version {
		return reject(protocol.ErrProtoVersion, "bad protocol_version")
	}
	if err := protocol.ValidateEdit(m); err != nil {
		return reject(protocol.ErrBadRequest, err.Error())
	}
	if err := s.reg.Submit(EditFromMsg(m)); err != nil {
		return reject(codeFor(err), err.Error())
	}
	ack.Accepted = true
	return ack
}

// EditFromMsg maps a validated EDIT message to a registry edit.
func EditFromMsg(m protocol.EditMsg) pastelnet.Edit {
	return pastelnet.Edit{
		Op:       pastelnet.EditOp(m.Op),
		World:    m.World,
		Pos:      pastel.Pos{X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2]},
		NodeType: m.NodeType,
		Priority: m.Priority,
		Range:    m.Range,
		Reason:   m.Reason,
		Item:     m.Item,
		Count:    m.Count,
		Targets:  m.Targets,
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, pastelnet.ErrInboxFull):
		return protocol.ErrBusy
	case errors.Is(err, pastelnet.ErrStopped):
		return protocol.ErrUnavailable
	case errors.Is(err, pastelnet.ErrBadEdit):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
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

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
