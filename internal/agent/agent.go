// Package agent runs one overlay participant: a receive loop answering
// requests on the communicator's listener and a gossip loop that grows the
// peer table over time.
package agent

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"learn-to-share/internal/dht"
	"learn-to-share/internal/netx"
	"learn-to-share/internal/proto"
	"learn-to-share/internal/storage/boltstore"
	"learn-to-share/internal/telemetry"
	"learn-to-share/internal/transport"
)

const DefaultHeartbeat = 2 * time.Second

// Handler receives USER_DEFINED, application and DSM messages. Returning false
// makes the agent reply with the default CORE_ACK.
type Handler interface {
	DispatchMessage(m proto.Message) (proto.Message, bool)
}

type HandlerFunc func(m proto.Message) (proto.Message, bool)

func (f HandlerFunc) DispatchMessage(m proto.Message) (proto.Message, bool) { return f(m) }

// RPCEndpoint is what the agent needs from an attached RPC subsystem.
type RPCEndpoint interface {
	Start()
	Enqueue(m proto.Message) bool
	HandleResults(m proto.Message)
	Terminate()
}

type Config struct {
	ID                 string           // own id, a random UUID if empty
	Name               string           // display name, defaults to ID
	Network            netx.Network     // transport implementation, TCP if nil
	BindAddr           string           // e.g. ":5555" or "127.0.0.1:0"
	Address            string           // advertised address, listen address if empty
	SeedID             string           // bootstrap peer id
	SeedAddress        string           // bootstrap peer address
	RecvTimeout        time.Duration    // silence after which the agent stops
	Heartbeat          time.Duration    // gossip interval
	BroadcastTerminate bool             // notify known peers on Terminate
	Handler            Handler          // external dispatch handler
	Logger             telemetry.Logger // system logger
	Metrics            transport.Metrics
	DataPath           string // bbolt file for the peer table, none if empty

	// Namespaces are extra PREFIX_ type prefixes routed to Handler, on top
	// of proto.DefaultNamespaces.
	Namespaces []string
}

type Agent struct {
	id    string
	cfg   Config
	comm  *transport.Communicator
	table *dht.PeerTable
	store *boltstore.Store
	log   telemetry.Logger

	mu       sync.Mutex
	running  bool
	started  bool
	done     chan struct{}
	stopOnce sync.Once

	hmu     sync.RWMutex
	handler Handler
	rpc     RPCEndpoint

	wg       sync.WaitGroup
	termOnce sync.Once
}

// New builds the agent, binds its listener and, when a seed is configured,
// subscribes to it. The loops run after Start.
func New(cfg Config) (*Agent, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = transport.DefaultRecvTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Nop()
	}

	a := &Agent{
		id:      cfg.ID,
		cfg:     cfg,
		log:     telemetry.With(cfg.Logger, "component", "agent", "agent", cfg.ID, "name", cfg.Name),
		done:    make(chan struct{}),
		handler: cfg.Handler,
	}

	opts := []dht.Option{dht.WithLogger(cfg.Logger)}
	if cfg.DataPath != "" {
		st, err := boltstore.Open(filepath.Clean(cfg.DataPath))
		if err != nil {
			return nil, err
		}
		a.store = st
		opts = append(opts, dht.WithStore(st))
	}
	a.table = dht.New(cfg.ID, opts...)

	comm, err := transport.New(transport.Config{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Network:     cfg.Network,
		BindAddr:    cfg.BindAddr,
		Address:     cfg.Address,
		SeedID:      cfg.SeedID,
		SeedAddress: cfg.SeedAddress,
		RecvTimeout: cfg.RecvTimeout,
		Table:       a.table,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	a.comm = comm
	return a, nil
}

func (a *Agent) ID() string { return a.id }
func (a *Agent) Name() string { return a.cfg.Name }
func (a *Agent) Communicator() *transport.Communicator { return a.comm }
func (a *Agent) Table() *dht.PeerTable { return a.table }

// Store returns the bbolt store opened for DataPath, or nil.
func (a *Agent) Store() *boltstore.Store { return a.store }

func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start launches the receive and gossip loops.
func (a *Agent) Start() error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("agent: already started")
	}
	a.started = true
	a.running = true
	a.mu.Unlock()

	a.log.Info("agent running", "address", a.comm.Address(), "seed", a.comm.SeedID())
	a.wg.Add(2)
	go a.receiveLoop()
	go a.gossipLoop()
	return nil
}

func (a *Agent) SetHandler(h Handler) {
	a.hmu.Lock()
	a.handler = h
	a.hmu.Unlock()
}

// AttachRPC routes RPC_CALL and RPC_RESULTS to r and starts it.
func (a *Agent) AttachRPC(r RPCEndpoint) {
	a.hmu.Lock()
	a.rpc = r
	a.hmu.Unlock()
	r.Start()
}

func (a *Agent) endpoints() (Handler, RPCEndpoint) {
	a.hmu.RLock()
	defer a.hmu.RUnlock()
	return a.handler, a.rpc
}

// stop clears running, wakes the gossip loop and closes the listener so a
// pending Accept returns. Outbound sends keep working.
func (a *Agent) stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.stopOnce.Do(func() {
		close(a.done)
		_ = a.comm.Close()
	})
}

// Terminate stops the agent: RPC first, then the loops. With
// BroadcastTerminate, every known peer gets one CORE_TERMINATE, unless the
// agent had already been stopped by a peer or by silence.
func (a *Agent) Terminate() {
	a.termOnce.Do(func() {
		_, rpc := a.endpoints()
		if rpc != nil {
			rpc.Terminate()
		}
		wasRunning := a.Running()
		a.stop()

		if a.cfg.BroadcastTerminate && wasRunning {
			n := a.comm.BroadcastMessage(proto.NewMessage(proto.TypeTerminate, "", a.id, ""))
			a.log.Info("terminate broadcast", "delivered", n)
		}
		_ = a.comm.Close()
		a.wg.Wait()

		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Warn("closing store failed", "err", err)
			}
		}
		a.log.Info("agent terminated")
	})
}

func (a *Agent) receiveLoop() {
	defer a.wg.Done()
	defer func() {
		_ = a.comm.Close()
		if _, rpc := a.endpoints(); rpc != nil {
			rpc.Terminate()
		}
	}()

	for a.Running() {
		conn, err := a.comm.Accept(a.cfg.RecvTimeout)
		if err != nil {
			if errors.Is(err, netx.ErrTimeout) {
				a.log.Info("recv timeout, stopping", "timeout", a.cfg.RecvTimeout)
			} else if a.Running() {
				a.log.Warn("accept failed, stopping", "err", err)
			}
			a.stop()
			return
		}
		_ = a.comm.Serve(conn, a.reply)
	}
}

func (a *Agent) gossipLoop() {
	defer a.wg.Done()
	t := time.NewTicker(a.cfg.Heartbeat)
	defer t.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-t.C:
			if !a.Running() {
				return
			}
			id, ok := a.comm.Populate()
			if !ok {
				continue
			}
			a.log.Debug("gossip discovered peer", "peer", id)
			if err := a.comm.Subscribe(id); err != nil {
				a.log.Info("subscribe to discovered peer failed", "peer", id, "err", err)
			}
		}
	}
}

func (a *Agent) reply(m proto.Message) proto.Message {
	return a.DispatchMessage(m)
}

// DispatchMessage routes one request and returns the reply to send back.
// A message type the agent does not know stops the agent.
func (a *Agent) DispatchMessage(m proto.Message) proto.Message {
	if m.Type.Kind == proto.KindUnknown && len(a.cfg.Namespaces) > 0 {
		m.Type = proto.ParseTypeIn(m.Type.Name, a.cfg.Namespaces...)
	}
	ack := proto.Ack(a.id, m)
	handler, rpc := a.endpoints()

	switch {
	case m.Type == proto.TypeTerminate:
		a.log.Info("terminate received", "from", m.FromID)
		a.stop()
		return ack

	case m.Type == proto.TypeDHTGetPeer:
		return a.table.DispatchGetPeer(m)

	case m.Type == proto.TypeDHTSubscribe:
		var pi proto.PeerInfo
		if err := proto.DecodeContent(m.Content, &pi); err != nil || pi.ID == "" || pi.Address == "" {
			a.log.Warn("bad subscribe", "from", m.FromID, "peer", pi.ID, "err", err)
			return ack
		}
		a.table.Add(pi.ID, pi.Address, 0)
		return ack

	case m.Type == proto.TypeRPCCall, m.Type == proto.TypeRPCResults:
		if rpc == nil {
			a.log.Error("rpc message with no rpc attached", "from", m.FromID, "type", m.Type.String())
			return ack
		}
		if m.Type == proto.TypeRPCResults {
			rpc.HandleResults(m)
			return ack
		}
		if !rpc.Enqueue(m) {
			return proto.NewMessage(proto.TypeNone, "", a.id, m.FromID)
		}
		return ack

	case m.Type == proto.TypeUserDefined, m.Type.IsApplication(), m.Type.IsDSM():
		if handler == nil {
			a.log.Error("no dispatch handler attached", "from", m.FromID, "type", m.Type.String())
			return ack
		}
		if resp, ok := handler.DispatchMessage(m); ok {
			return resp
		}
		return ack
	}

	a.log.Error("unknown message type, stopping", "from", m.FromID, "type", m.Type.String())
	a.stop()
	return ack
}
