package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"puzzleplatform.ai/internal/protocol"
)

// bot connects to the control socket and keeps re-running idle platforms.
func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "client name")
		every = flag.Int("every", 30, "status cadence in ticks")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:             protocol.TypeHello,
		ProtocolVersion:  protocol.Version,
		ClientName:       *name,
		StatusEveryTicks: *every,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var reqs int
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s tick_rate=%d platforms=%d", w.SessionID, w.TickRateHz, len(w.Platforms))

		case protocol.TypeStatus:
			var st protocol.StatusMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			// Re-run one idle platform per status push.
			var idle []string
			for _, p := range st.Platforms {
				if !p.Playing {
					idle = append(idle, p.ID)
				}
			}
			if len(idle) == 0 {
				continue
			}
			reqs++
			ctl := protocol.ControlMsg{
				Type:            protocol.TypeControl,
				ProtocolVersion: protocol.Version,
				ReqID:           fmt.Sprintf("R%d", reqs),
				Op:              protocol.OpExecute,
				Platform:        idle[r.Intn(len(idle))],
			}
			_ = conn.WriteJSON(ctl)

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if !ack.Accepted {
				logger.Printf("ACK %s rejected code=%s %s", ack.AckFor, ack.Code, ack.Message)
			}

		case protocol.TypeEvent:
			var ev protocol.EventMsg
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			e := ev.Event
			switch e.Kind {
			case protocol.EventRunFinished:
				logger.Printf("tick=%d %s run=%d %s steps=%d collisions=%d", e.Tick, e.Platform, e.Run, e.Outcome, e.Steps, e.Collisions)
			case protocol.EventFault, protocol.EventCollision:
				logger.Printf("tick=%d %s %s %s", e.Tick, e.Platform, e.Kind, e.Reason)
			}
		}
	}
}
