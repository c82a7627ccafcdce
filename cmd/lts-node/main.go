package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"learn-to-share/internal/agent"
	"learn-to-share/internal/dsm"
	"learn-to-share/internal/paths"
	"learn-to-share/internal/proto"
	"learn-to-share/internal/rpc"
	"learn-to-share/internal/telemetry"
	"learn-to-share/internal/transport"
)

func main() {
	id := flag.String("id", "", "agent id (random UUID if empty)")
	name := flag.String("name", "", "display name (defaults to id)")
	bind := flag.String("bind", ":5555", "bind address")
	address := flag.String("address", "", "advertised address (listen address if empty)")
	seedID := flag.String("seed-id", "", "bootstrap peer id")
	seedAddr := flag.String("seed-addr", "", "bootstrap peer address host:port")
	recvTimeout := flag.Duration("recv-timeout", 10*time.Second, "stop after this much silence")
	heartbeat := flag.Duration("heartbeat", agent.DefaultHeartbeat, "gossip interval")
	broadcastTerm := flag.Bool("broadcast-terminate", false, "notify known peers on exit")
	persist := flag.Bool("persist", false, "keep peers and owned chunks under -data")
	dataDir := flag.String("data", paths.DefaultDataDir(), "state directory used with -persist")
	capacity := flag.Int("chunks", dsm.DefaultCapacity, "chunk capacity")
	npeers := flag.Int("npeers", 0, "run a local overlay of 1+npeers agents instead of one interactive agent")
	basePort := flag.Int("baseport", 5555, "first TCP port of the local overlay")
	duration := flag.Duration("duration", 20*time.Second, "how long the local overlay runs")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	format := flag.String("log-format", "text", "text or json")
	flag.Parse()

	logger := telemetry.NewSlogLogger(telemetry.ParseLevel(*level), *format, os.Stderr)

	if *npeers > 0 {
		runOverlay(logger, *npeers, *basePort, *recvTimeout, *heartbeat, *duration)
		return
	}

	cfg := agent.Config{
		ID:                 *id,
		Name:               *name,
		BindAddr:           *bind,
		Address:            *address,
		SeedID:             *seedID,
		SeedAddress:        *seedAddr,
		RecvTimeout:        *recvTimeout,
		Heartbeat:          *heartbeat,
		BroadcastTerminate: *broadcastTerm,
		Logger:             logger,
		Metrics:            &transport.AtomicMetrics{},
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if *persist {
		cfg.DataPath = paths.AgentDB(*dataDir, cfg.ID)
	}
	runInteractive(cfg, *capacity, logger)
}

func runInteractive(cfg agent.Config, capacity int, logger telemetry.Logger) {
	a, err := agent.New(cfg)
	if err != nil {
		log.Fatalf("create agent: %v", err)
	}

	app := agent.HandlerFunc(func(m proto.Message) (proto.Message, bool) {
		fmt.Printf("[%s] %s: %s\n", m.Type, m.FromID, m.Content)
		return proto.Message{}, false
	})
	dcfg := dsm.Config{Capacity: capacity, Next: app, Logger: logger}
	if st := a.Store(); st != nil {
		dcfg.Store = st
	}
	mem := dsm.New(a.Communicator(), dcfg)
	a.SetHandler(mem)

	r := rpc.New(a.Communicator(), rpc.Config{Logger: logger})
	r.Register("echo", func(p string) string { return p })
	r.Register("time", func(string) string { return time.Now().UTC().Format(time.RFC3339) })
	a.AttachRPC(r)

	if err := a.Start(); err != nil {
		log.Fatalf("start agent: %v", err)
	}

	fmt.Printf("Agent started.\n")
	fmt.Printf("ID:		%s\n", a.ID())
	fmt.Printf("Addr:	%s\n\n", a.Communicator().Address())
	fmt.Println("Commands:")
	fmt.Println("	/write <chunk> <content>	- write a chunk (first touch makes you owner)")
	fmt.Println("	/read <chunk>		- read a chunk, fetching from its owner if needed")
	fmt.Println("	/advertize <chunk>	- tell every known peer about a chunk")
	fmt.Println("	/drop <chunk>		- forget a chunk locally")
	fmt.Println("	/send <peer> <text>	- send a USER_DEFINED message")
	fmt.Println("	/say <text>		- broadcast a USER_DEFINED message")
	fmt.Println("	/remote <proc> <peer>	- record that peer exposes proc")
	fmt.Println("	/call <proc> [params]	- call a procedure")
	fmt.Println("	/peers			- dump agent state")
	fmt.Println("	/quit			- exit")
	fmt.Println()

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			cmd, rest, _ := strings.Cut(line, " ")
			rest = strings.TrimSpace(rest)
			arg, tail, _ := strings.Cut(rest, " ")
			tail = strings.TrimSpace(tail)

			switch cmd {
			case "/quit":
				fmt.Println("quitting...")
				return
			case "/write":
				if arg == "" {
					fmt.Println("usage: /write <chunk> <content>")
					continue
				}
				if _, ok := mem.Write(arg, tail); !ok {
					fmt.Println("memory full")
					continue
				}
				c, _ := mem.Memory().Get(arg)
				fmt.Printf("[DSM] %s v%d owner=%s\n", c.ChunkID, c.Version, c.OwnerID)
			case "/read":
				if v, ok := mem.Read(arg); ok {
					fmt.Printf("[DSM] %s = %s\n", arg, v)
				} else {
					fmt.Printf("[DSM] %s unavailable\n", arg)
				}
			case "/advertize":
				if n, ok := mem.Advertize(arg); ok {
					fmt.Printf("[DSM] advertized %s to %d peers\n", arg, n)
				}
			case "/drop":
				fmt.Printf("[DSM] dropped=%v\n", mem.Drop(arg))
			case "/send":
				if _, err := a.Communicator().Send(arg, tail); err != nil {
					fmt.Printf("send failed: %v\n", err)
				}
			case "/say":
				fmt.Printf("delivered to %d peers\n", a.Communicator().Broadcast(rest))
			case "/remote":
				if arg == "" || tail == "" {
					fmt.Println("usage: /remote <proc> <peer>")
					continue
				}
				r.RegisterRemote(arg, tail)
			case "/call":
				fmt.Printf("[RPC] %s -> %q\n", arg, r.Call(arg, tail))
			case "/peers":
				printJSON(newReport(a, cfg.Metrics))
			default:
				fmt.Println("unknown command")
			}
		}
	}()

	for a.Running() {
		select {
		case <-quit:
			a.Terminate()
		case <-time.After(200 * time.Millisecond):
		}
	}
	a.Terminate()
	printJSON(newReport(a, cfg.Metrics))
}

// report is what /peers and the exit dump print.
type report struct {
	Agent   agent.Snapshot    `json:"agent"`
	Metrics map[string]uint64 `json:"metrics,omitempty"`
}

func newReport(a *agent.Agent, m transport.Metrics) report {
	r := report{Agent: a.Snapshot()}
	if am, ok := m.(*transport.AtomicMetrics); ok {
		r.Metrics = am.Snapshot()
	}
	return r
}

// runOverlay starts a seed plus npeers agents on consecutive ports, each
// bootstrapped from a random earlier one, lets gossip run and dumps the
// resulting tables.
func runOverlay(logger telemetry.Logger, npeers, basePort int, recvTimeout, heartbeat, duration time.Duration) {
	if recvTimeout < duration {
		recvTimeout = duration + heartbeat
	}
	agents := make([]*agent.Agent, 0, npeers+1)
	for i := 0; i <= npeers; i++ {
		port := strconv.Itoa(basePort + i)
		cfg := agent.Config{
			Name:        "agent-" + port,
			BindAddr:    "127.0.0.1:" + port,
			RecvTimeout: recvTimeout,
			Heartbeat:   heartbeat,
			Logger:      logger,
		}
		if len(agents) > 0 {
			seed := agents[rand.IntN(len(agents))]
			cfg.SeedID = seed.ID()
			cfg.SeedAddress = seed.Communicator().Address()
		}
		a, err := agent.New(cfg)
		if err != nil {
			log.Fatalf("create agent %d: %v", i, err)
		}
		if err := a.Start(); err != nil {
			log.Fatalf("start agent %d: %v", i, err)
		}
		agents = append(agents, a)
	}

	time.Sleep(duration)

	snaps := make([]agent.Snapshot, 0, len(agents))
	for _, a := range agents {
		snaps = append(snaps, a.Snapshot())
	}
	printJSON(snaps)

	for _, a := range agents {
		a.Terminate()
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		fmt.Printf("marshal: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
