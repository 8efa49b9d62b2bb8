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

	"pastelcraft.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		token    = flag.String("token", "", "server token (optional)")
		world    = flag.String("world", "OVERWORLD", "world to edit")
		seed     = flag.Int64("seed", 0, "edit generator seed (default: time based)")
		every    = flag.Duration("every", 100*time.Millisecond, "delay between edits")
		spread   = flag.Int("spread", 24, "edits land within [-spread,spread] on x and z")
		maxEdits = flag.Int("n", 0, "stop after n edits (0 = run until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
	}
	if *token != "" {
		hello.Auth = &protocol.HelloAuth{Token: *token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	logger.Printf("WELCOME session=%s tick=%d tick_rate=%d ticks_per_hop=%d", welcome.SessionID, welcome.ServerTick, welcome.Params.TickRateHz, welcome.Params.TicksPerHop)

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gen := newEditGen(rand.New(rand.NewSource(*seed)), *world, *spread)

	acks := make(chan protocol.AckMsg, 64)
	go func() {
		defer close(acks)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAck {
				continue
			}
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err == nil {
				acks <- ack
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	var sent, accepted, rejected int
	defer func() {
		logger.Printf("sent=%d accepted=%d rejected=%d", sent, accepted, rejected)
	}()
	for {
		select {
		case <-stop:
			return
		case ack, ok := <-acks:
			if !ok {
				return
			}
			if ack.Accepted {
				accepted++
				continue
			}
			rejected++
			logger.Printf("rejected %s: %s %s", ack.AckFor, ack.Code, ack.Message)
		case <-ticker.C:
			if *maxEdits > 0 && sent >= *maxEdits {
				continue
			}
			if err := conn.WriteJSON(gen.next()); err != nil {
				logger.Printf("send EDIT: %v", err)
				return
			}
			sent++
		}
	}
}

// editGen produces a plausible mix of edits around the origin. It remembers
// where it placed nodes so BREAK, PRIORITY and SEND usually hit one.
type editGen struct {
	r      *rand.Rand
	world  string
	spread int
	seq    int
	placed [][3]int
}

var (
	nodeTypes  = []string{"PROVIDER", "SENDER", "GATHER", "STORAGE", "BUFFER", "CONNECTION"}
	priorities = []string{"GENERIC", "MODERATE", "HIGH"}
	items      = []string{"IRON_INGOT", "GOLD_INGOT", "REDSTONE", "COAL"}
)

func newEditGen(r *rand.Rand, world string, spread int) *editGen {
	if spread <= 0 {
		spread = 1
	}
	return &editGen{r: r, world: world, spread: spread}
}

func (g *editGen) next() protocol.EditMsg {
	g.seq++
	m := protocol.EditMsg{
		Type:            protocol.TypeEdit,
		ProtocolVersion: protocol.Version,
		EditID:          fmt.Sprintf("E_%d", g.seq),
		World:           g.world,
	}
	roll := g.r.Intn(100)
	if len(g.placed) == 0 || roll < 50 {
		m.Op = "PLACE"
		m.Pos = [3]int{g.r.Intn(2*g.spread+1) - g.spread, 64, g.r.Intn(2*g.spread+1) - g.spread}
		m.NodeType = nodeTypes[g.r.Intn(len(nodeTypes))]
		g.placed = append(g.placed, m.Pos)
		return m
	}

	i := g.r.Intn(len(g.placed))
	m.Pos = g.placed[i]
	switch {
	case roll < 65:
		m.Op = "BREAK"
		m.Reason = "BROKEN"
		g.placed = append(g.placed[:i], g.placed[i+1:]...)
	case roll < 80:
		m.Op = "PRIORITY"
		m.Priority = priorities[g.r.Intn(len(priorities))]
	default:
		m.Op = "SEND"
		m.Item = items[g.r.Intn(len(items))]
		m.Count = 1 + g.r.Intn(16)
	}
	return m
}
