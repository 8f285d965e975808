package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"puzzleplatform.ai/internal/observerproto"
	"puzzleplatform.ai/internal/protocol"
	"puzzleplatform.ai/internal/sim/manager"
	"puzzleplatform.ai/internal/transport/ws"
)

type Server struct {
	mgr      *manager.Manager
	scenario string
	log      *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(m *manager.Manager, scenario string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		mgr:      m,
		scenario: scenario,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return ws.LoopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Scenario:        s.scenario,
			Tick:            s.mgr.CurrentTick(),
			TickRateHz:      s.mgr.TickRateHz(),
			Platforms:       s.mgr.PlatformInfos(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	})
}

func (s *Server) WSHandler() http.HandlerFunc {
	return ws.LoopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
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
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		var feed atomic.Pointer[manager.Subscriber]
		feed.Store(s.subscribe(sub))
		defer func() { s.mgr.Unsubscribe(feed.Load().ID) }()
		s.log.Printf("observer %s subscribed every %d ticks", sid, sub.FrameEveryTicks)

		infos := map[string]protocol.PlatformInfo{}
		for _, pi := range s.mgr.PlatformInfos() {
			infos[pi.ID] = pi
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. A re-SUBSCRIBE swaps the feed; the writer picks
		// it up on its next wake.
		swapped := make(chan struct{}, 1)
		writeErr := make(chan error, 1)
		go func() {
			var pending []protocol.Event
			for {
				cur := feed.Load()
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-swapped:
					pending = nil
				case ev := <-cur.Events:
					pending = append(pending, ev.Event)
				case st := <-cur.Status:
					// Drain events of the ticks this frame covers.
				drain:
					for {
						select {
						case ev := <-cur.Events:
							pending = append(pending, ev.Event)
						default:
							break drain
						}
					}
					frame := buildFrame(st, infos, pending)
					pending = nil
					b, err := json.Marshal(frame)
					if err != nil {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
				continue
			}
			normalizeSubscribe(&sub)
			old := feed.Swap(s.subscribe(sub))
			s.mgr.Unsubscribe(old.ID)
			select {
			case swapped <- struct{}{}:
			default:
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	})
}

func (s *Server) subscribe(sub observerproto.SubscribeMsg) *manager.Subscriber {
	return s.mgr.Subscribe(manager.SubscribeRequest{
		Platforms:        sub.Platforms,
		StatusEveryTicks: sub.FrameEveryTicks,
		Buffer:           1024,
	})
}

// buildFrame places each platform status in world space.
func buildFrame(st protocol.StatusMsg, infos map[string]protocol.PlatformInfo, events []protocol.Event) observerproto.FrameMsg {
	f := observerproto.FrameMsg{
		Type:            "FRAME",
		ProtocolVersion: observerproto.Version,
		Tick:            st.Tick,
		Platforms:       make([]observerproto.PlatformFrame, 0, len(st.Platforms)),
		Events:          events,
	}
	for _, p := range st.Platforms {
		info, ok := infos[p.ID]
		if !ok {
			continue
		}
		pf := observerproto.PlatformFrame{
			ID:      p.ID,
			State:   p.State,
			Playing: p.Playing,
			Cursor:  p.Cursor,
			Size:    info.CellSize,
		}
		for i := 0; i < 3; i++ {
			pf.World[i] = info.Origin[i] + p.Pos[i]
		}
		f.Platforms = append(f.Platforms, pf)
	}
	return f
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.FrameEveryTicks <= 0 {
		sub.FrameEveryTicks = 1
	}
	if sub.FrameEveryTicks > 1000 {
		sub.FrameEveryTicks = 1000
	}
}
