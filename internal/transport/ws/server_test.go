package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"puzzleplatform.ai/internal/protocol"
	"puzzleplatform.ai/internal/sim/manager"
	"puzzleplatform.ai/internal/sim/tuning"
)

const scenarioYAML = `
tick_rate_hz: 20
status_every_ticks: 2
settings: {speed: 10, curve: linear, continuous: true}
platforms:
  - id: P1
    area: {min: [0, 0, 0], max: [4, 2, 2]}
    commands: [right, right]
`

func startServer(t *testing.T) (*httptest.Server, *manager.Manager) {
	t.Helper()
	scn, err := tuning.Parse([]byte(scenarioYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m, err := manager.New(scn, manager.Options{Name: "ws-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	srv := httptest.NewServer(NewServer(m, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv, m
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, match func([]byte) bool) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ && (match == nil || match(msg)) {
			return msg
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"})
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome, nil), &w); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	return w
}

func TestHandshakeControlAndEvents(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)

	w := hello(t, conn)
	if w.SessionID == "" || w.TickRateHz != 20 || len(w.Platforms) != 1 || w.Platforms[0].ID != "P1" || w.Platforms[0].Slots != 2 {
		t.Fatalf("welcome %+v", w)
	}

	send(t, conn, protocol.ControlMsg{Type: protocol.TypeControl, ProtocolVersion: protocol.Version, ReqID: "r1", Op: protocol.OpExecute, Platform: "P1"})
	var ack protocol.AckMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeAck, nil), &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack.AckFor != "r1" || !ack.Accepted {
		t.Fatalf("ack %+v", ack)
	}

	var ev protocol.EventMsg
	readUntil(t, conn, protocol.TypeEvent, func(b []byte) bool {
		_ = json.Unmarshal(b, &ev)
		return ev.Event.Kind == protocol.EventRunStarted
	})
	if ev.Event.Platform != "P1" || ev.Event.Run != 1 {
		t.Fatalf("run started %+v", ev)
	}

	var st protocol.StatusMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeStatus, nil), &st); err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.Platforms) != 1 || st.Platforms[0].ID != "P1" {
		t.Fatalf("status %+v", st)
	}

	send(t, conn, protocol.EventBatchReqMsg{Type: protocol.TypeEventBatchReq, ProtocolVersion: protocol.Version, ReqID: "b1", Limit: 100})
	var batch protocol.EventBatchMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeEventBatch, nil), &batch); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.ReqID != "b1" || len(batch.Events) == 0 || batch.Events[0].Cursor != 0 || batch.NextCursor < uint64(len(batch.Events)) {
		t.Fatalf("batch %+v", batch)
	}
}

func TestControlRejections(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)
	hello(t, conn)

	send(t, conn, protocol.ControlMsg{Type: protocol.TypeControl, ProtocolVersion: "0.0", ReqID: "old", Op: protocol.OpStop, Platform: "P1"})
	var ack protocol.AckMsg
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeAck, nil), &ack)
	if ack.AckFor != "old" || ack.Accepted || ack.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("version ack %+v", ack)
	}

	send(t, conn, protocol.ControlMsg{Type: protocol.TypeControl, ProtocolVersion: protocol.Version, ReqID: "ghost", Op: protocol.OpStop, Platform: "P9"})
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeAck, nil), &ack)
	if ack.AckFor != "ghost" || ack.Accepted || ack.Code != protocol.ErrNotFound {
		t.Fatalf("unknown platform ack %+v", ack)
	}
}

func TestHandshakeRejectsNonHello(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)
	send(t, conn, protocol.ControlMsg{Type: protocol.TypeControl, ProtocolVersion: protocol.Version})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:1234":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := IsLoopbackRemote(addr); got != want {
			t.Fatalf("IsLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
