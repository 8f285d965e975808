package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"puzzleplatform.ai/internal/protocol"
	"puzzleplatform.ai/internal/sim/manager"
)

// Server speaks the control protocol: HELLO/WELCOME handshake, CONTROL
// requests answered with ACK, pushed EVENT and STATUS, and EVENT_BATCH
// catch-up.
type Server struct {
	mgr *manager.Manager
	log *log.Logger

	// AllowRemote accepts connections from non-loopback addresses.
	AllowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(m *manager.Manager, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		mgr: m,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid, sub := s.handshake(conn)
		if sub == nil {
			return
		}
		defer s.mgr.Unsubscribe(sub.ID)
		s.log.Printf("session %s connected from %s", sid, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Replies (ACK, EVENT_BATCH) share the writer with pushed messages.
		out := make(chan []byte, 64)

		// Writer goroutine.
		go func() {
			for {
				var v any
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					if err := writeRaw(conn, b); err != nil {
						cancel()
						return
					}
					continue
				case ev := <-sub.Events:
					v = ev
				case st := <-sub.Status:
					v = st
				}
				if err := writeJSON(conn, v); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			reply := s.handle(ctx, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		if n := sub.Dropped(); n > 0 {
			s.log.Printf("session %s closed; %d events dropped", sid, n)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, *manager.Subscriber) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	for _, id := range hello.Platforms {
		if _, ok := s.mgr.Platform(id); !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown platform "+id), time.Now().Add(time.Second))
			return "", nil
		}
	}

	sid := fmt.Sprintf("S%d", s.nextID.Add(1))
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sid,
		TickRateHz:      s.mgr.TickRateHz(),
		Platforms:       s.mgr.PlatformInfos(),
	}
	// Subscribe before WELCOME so no event between the two is lost.
	sub := s.mgr.Subscribe(manager.SubscribeRequest{
		Platforms:        hello.Platforms,
		StatusEveryTicks: hello.StatusEveryTicks,
	})
	if err := writeJSON(conn, welcome); err != nil {
		s.mgr.Unsubscribe(sub.ID)
		return "", nil
	}
	return sid, sub
}

// handle answers one client message. Unknown types are ignored.
func (s *Server) handle(ctx context.Context, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nil
	}
	switch base.Type {
	case protocol.TypeControl:
		var c protocol.ControlMsg
		if err := json.Unmarshal(msg, &c); err != nil {
			return rejected("", protocol.ErrProtoBadRequest, "malformed CONTROL")
		}
		if c.ProtocolVersion != protocol.Version {
			return rejected(c.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		ack, err := s.mgr.Control(cctx, c)
		if err != nil {
			return rejected(c.ReqID, manager.ErrorCode(err), err.Error())
		}
		return ack
	case protocol.TypeEventBatchReq:
		var req protocol.EventBatchReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return nil
		}
		if req.ProtocolVersion != protocol.Version {
			return rejected(req.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")
		}
		items, next := s.mgr.EventsSince(req.SinceCursor, req.Limit, req.PlatformID)
		if items == nil {
			items = []protocol.EventBatchItem{}
		}
		return protocol.EventBatchMsg{
			Type:            protocol.TypeEventBatch,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			Events:          items,
			NextCursor:      next,
		}
	}
	return nil
}

func rejected(reqID, code, message string) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          reqID,
		Code:            code,
		Message:         message,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// IsLoopbackRemote reports whether an http.Request RemoteAddr is a
// loopback address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LoopbackOnly rejects requests that do not come from a loopback address.
func LoopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}
