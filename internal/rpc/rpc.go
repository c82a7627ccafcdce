// Package rpc runs named procedures for an agent. Local procedures are plain
// functions; remote ones are reached by sending RPC_CALL to a peer known to
// expose them, whose scheduler runs the call and whose responder sends
// RPC_RESULTS back.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"learn-to-share/internal/proto"
	"learn-to-share/internal/telemetry"
)

var (
	ErrUnknownProcedure = errors.New("rpc: unknown procedure")
	ErrStopped          = errors.New("rpc: stopped")
)

// Handler computes a result from opaque parameters, conventionally JSON.
type Handler func(params string) string

// Sender is the slice of the communicator RPC needs.
type Sender interface {
	ID() string
	SendMessage(to string, m proto.Message) (proto.Message, error)
}

type Config struct {
	QueueTimeout time.Duration    // how long Enqueue waits on a full inbound queue
	QueueSize    int              // inbound and outbound queue capacity
	Workers      int              // max concurrently executing inbound calls
	Logger       telemetry.Logger // system logger
}

func DefaultConfig() Config {
	return Config{
		QueueTimeout: time.Second,
		QueueSize:    128,
		Workers:      16,
	}
}

// Instance is one inbound call on its way through the scheduler and responder.
type Instance struct {
	CallID    string
	Procedure string
	Params    string
	Result    string
	OriginID  string
}

type RPC struct {
	id   string
	comm Sender
	cfg  Config
	log  telemetry.Logger

	mu     sync.RWMutex
	local  map[string]Handler
	remote map[string][]string

	pendingMu sync.Mutex
	pending   map[string]chan proto.RPCResults

	inbound  chan Instance
	outbound chan Instance
	sem      chan struct{}

	runMu    sync.Mutex
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	pick func(n int) int
}

func New(comm Sender, cfg Config) *RPC {
	def := DefaultConfig()
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = def.QueueTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Nop()
	}
	return &RPC{
		id:       comm.ID(),
		comm:     comm,
		cfg:      cfg,
		log:      telemetry.With(cfg.Logger, "component", "rpc", "agent", comm.ID()),
		local:    make(map[string]Handler),
		remote:   make(map[string][]string),
		pending:  make(map[string]chan proto.RPCResults),
		inbound:  make(chan Instance, cfg.QueueSize),
		outbound: make(chan Instance, cfg.QueueSize),
		sem:      make(chan struct{}, cfg.Workers),
		stop:     make(chan struct{}),
		pick:     rand.IntN,
	}
}

// Register adds or replaces a local procedure.
func (r *RPC) Register(name string, h Handler) {
	r.mu.Lock()
	r.local[name] = h
	r.mu.Unlock()
	r.log.Info("registering procedure", "procedure", name)
}

// RegisterRemote records that peerID exposes name. Duplicates are kept.
func (r *RPC) RegisterRemote(name, peerID string) {
	r.mu.Lock()
	r.remote[name] = append(r.remote[name], peerID)
	r.mu.Unlock()
}

func (r *RPC) Remote(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.remote[name]...)
}

func (r *RPC) lookup(name string) (Handler, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.local[name]; ok {
		return h, "", true
	}
	peers := r.remote[name]
	if len(peers) == 0 {
		return nil, "", false
	}
	return nil, peers[r.pick(len(peers))], true
}

// Call runs a local procedure synchronously and returns its result. A remote
// procedure is sent to one of its peers at random and "" is returned at once;
// the result arrives later as RPC_RESULTS. Unknown procedures log a warning
// and return "".
func (r *RPC) Call(name, params string) string {
	h, peer, ok := r.lookup(name)
	if !ok {
		r.log.Warn("procedure unknown", "procedure", name)
		return ""
	}
	if h != nil {
		return h(params)
	}
	call := proto.RPCCall{CallID: uuid.NewString(), Procedure: name, Parameters: params}
	go func() {
		if err := r.sendCall(peer, call); err != nil {
			r.log.Info("remote call not delivered", "procedure", name, "peer", peer, "err", err)
		}
	}()
	return ""
}

// CallWait is Call with result correlation: for a remote procedure it blocks
// until the matching RPC_RESULTS arrives or ctx ends.
func (r *RPC) CallWait(ctx context.Context, name, params string) (string, error) {
	h, peer, ok := r.lookup(name)
	if !ok {
		r.log.Warn("procedure unknown", "procedure", name)
		return "", fmt.Errorf("%w: %s", ErrUnknownProcedure, name)
	}
	if h != nil {
		return h(params), nil
	}

	call := proto.RPCCall{CallID: uuid.NewString(), Procedure: name, Parameters: params}
	ch := make(chan proto.RPCResults, 1)
	r.pendingMu.Lock()
	r.pending[call.CallID] = ch
	r.pendingMu.Unlock()

	forget := func() {
		r.pendingMu.Lock()
		delete(r.pending, call.CallID)
		r.pendingMu.Unlock()
	}

	if err := r.sendCall(peer, call); err != nil {
		forget()
		return "", err
	}

	select {
	case res := <-ch:
		return res.Result, nil
	case <-ctx.Done():
		forget()
		return "", ctx.Err()
	case <-r.stop:
		forget()
		return "", ErrStopped
	}
}

func (r *RPC) sendCall(peer string, call proto.RPCCall) error {
	m := proto.NewMessage(proto.TypeRPCCall, proto.MustContent(call), r.id, peer)
	resp, err := r.comm.SendMessage(peer, m)
	if err != nil {
		return err
	}
	if resp.Type != proto.TypeAck {
		return fmt.Errorf("rpc: call %s not accepted by %s: %s", call.CallID, peer, resp.Type)
	}
	return nil
}

// Enqueue turns an RPC_CALL message into an inbound Instance. It returns false
// when the message is malformed, the procedure is not local, or the queue stays
// full for QueueTimeout.
func (r *RPC) Enqueue(m proto.Message) bool {
	var call proto.RPCCall
	if err := proto.DecodeContent(m.Content, &call); err != nil {
		r.log.Warn("bad rpc call", "from", m.FromID, "err", err)
		return false
	}
	r.mu.RLock()
	_, ok := r.local[call.Procedure]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("procedure unknown", "procedure", call.Procedure, "from", m.FromID)
		return false
	}

	inst := Instance{CallID: call.CallID, Procedure: call.Procedure, Params: call.Parameters, OriginID: m.FromID}
	timer := time.NewTimer(r.cfg.QueueTimeout)
	defer timer.Stop()
	select {
	case r.inbound <- inst:
		return true
	case <-timer.C:
		r.log.Warn("inbound queue full, dropping call", "procedure", call.Procedure, "call_id", call.CallID)
		return false
	case <-r.stop:
		return false
	}
}

// HandleResults resolves a pending CallWait. Results for fire-and-forget calls
// are only logged.
func (r *RPC) HandleResults(m proto.Message) {
	var res proto.RPCResults
	if err := proto.DecodeContent(m.Content, &res); err != nil {
		r.log.Warn("bad rpc results", "from", m.FromID, "err", err)
		return
	}
	r.pendingMu.Lock()
	ch, ok := r.pending[res.CallID]
	delete(r.pending, res.CallID)
	r.pendingMu.Unlock()

	if !ok {
		r.log.Info("results for untracked call", "procedure", res.Procedure, "call_id", res.CallID, "from", m.FromID)
		return
	}
	ch <- res
}

// Start launches the scheduler and responder. Calling it twice is a no-op.
func (r *RPC) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.wg.Add(2)
	go r.runScheduler()
	go r.runResponder()
}

func (r *RPC) Running() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.started {
		return false
	}
	select {
	case <-r.stop:
		return false
	default:
		return true
	}
}

// Terminate stops both loops and waits for them. Calls already executing
// finish, but their results are dropped.
func (r *RPC) Terminate() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *RPC) runScheduler() {
	defer r.wg.Done()
	r.log.Info("rpc scheduler running")
	defer r.log.Info("rpc scheduler terminating")

	for {
		select {
		case <-r.stop:
			return
		case inst := <-r.inbound:
			select {
			case r.sem <- struct{}{}:
			case <-r.stop:
				return
			}
			r.log.Debug("scheduling procedure", "procedure", inst.Procedure, "call_id", inst.CallID)
			go r.execute(inst)
		}
	}
}

func (r *RPC) execute(inst Instance) {
	defer func() { <-r.sem }()

	r.mu.RLock()
	h := r.local[inst.Procedure]
	r.mu.RUnlock()
	if h == nil {
		r.log.Warn("procedure vanished before execution", "procedure", inst.Procedure)
		return
	}
	inst.Result = h(inst.Params)

	select {
	case r.outbound <- inst:
	case <-r.stop:
	}
}

func (r *RPC) runResponder() {
	defer r.wg.Done()
	r.log.Info("rpc responder running")
	defer r.log.Info("rpc responder terminating")

	for {
		select {
		case <-r.stop:
			return
		case inst := <-r.outbound:
			res := proto.RPCResults{CallID: inst.CallID, Procedure: inst.Procedure, Result: inst.Result}
			m := proto.NewMessage(proto.TypeRPCResults, proto.MustContent(res), r.id, inst.OriginID)
			if _, err := r.comm.SendMessage(inst.OriginID, m); err != nil {
				r.log.Info("results not delivered", "procedure", inst.Procedure, "origin", inst.OriginID, "err", err)
			}
		}
	}
}
