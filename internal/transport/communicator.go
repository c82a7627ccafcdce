// Package transport implements request/reply messaging between agents: one
// durable listener per agent and one short-lived connection per request.
package transport

import (
	"errors"
	"time"

	"learn-to-share/internal/dht"
	"learn-to-share/internal/netx"
	"learn-to-share/internal/telemetry"
)

var (
	// ErrUnknownPeer means the destination id has no address in the table.
	ErrUnknownPeer = errors.New("transport: peer not in table")
	// ErrUnreachable means the connection could not be opened or written.
	ErrUnreachable = errors.New("transport: peer unreachable")
	// ErrTimeout means no reply arrived within the receive timeout.
	ErrTimeout = errors.New("transport: reply timeout")
)

const DefaultRecvTimeout = 10 * time.Second

type Config struct {
	ID          string           // own peer id
	Name        string           // display name, defaults to ID
	Network     netx.Network     // transport implementation, TCP if nil
	BindAddr    string           // listen address, e.g. ":5555" or "127.0.0.1:0"
	Address     string           // advertised address; the listen address if empty
	SeedID      string           // optional bootstrap peer
	SeedAddress string           // address of SeedID
	RecvTimeout time.Duration    // reply wait per request
	DialTimeout time.Duration    // connect timeout, RecvTimeout if zero
	Table       *dht.PeerTable   // peer directory; a fresh one if nil
	Logger      telemetry.Logger // system logger
	Metrics     Metrics          // send counters, NoopMetrics if nil
}

// Communicator owns the agent's listener and talks to peers through its
// PeerTable.
type Communicator struct {
	id          string
	name        string
	address     string
	seedID      string
	seedAddress string

	net         netx.Network
	listenAddr  netx.Addr
	recvTimeout time.Duration
	dialTimeout time.Duration

	table   *dht.PeerTable
	log     telemetry.Logger
	metrics Metrics
}

// New binds the listener, registers self in the table and, when a distinct
// seed is configured, registers the seed and subscribes to it.
func New(cfg Config) (*Communicator, error) {
	if cfg.ID == "" {
		return nil, errors.New("transport: empty id")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Network == nil {
		cfg.Network = netx.NewTCPNetwork()
	}
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = DefaultRecvTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = cfg.RecvTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Table == nil {
		cfg.Table = dht.New(cfg.ID, dht.WithLogger(cfg.Logger))
	}

	listenAddr, err := cfg.Network.Listen(cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	if cfg.Address == "" {
		cfg.Address = string(listenAddr)
	}

	c := &Communicator{
		id:          cfg.ID,
		name:        cfg.Name,
		address:     cfg.Address,
		net:         cfg.Network,
		listenAddr:  listenAddr,
		recvTimeout: cfg.RecvTimeout,
		dialTimeout: cfg.DialTimeout,
		table:       cfg.Table,
		log:         telemetry.With(cfg.Logger, "component", "com", "agent", cfg.ID, "name", cfg.Name),
		metrics:     cfg.Metrics,
	}

	c.table.Add(c.id, c.address, 0)

	if cfg.SeedID == "" || cfg.SeedID == c.id {
		c.seedID = c.id
		c.seedAddress = c.address
		return c, nil
	}
	c.seedID = cfg.SeedID
	c.seedAddress = cfg.SeedAddress
	c.table.Add(c.seedID, c.seedAddress, 0)
	if err := c.Subscribe(c.seedID); err != nil {
		c.log.Warn("subscribe to seed failed", "seed", c.seedID, "err", err)
	}
	return c, nil
}

func (c *Communicator) ID() string { return c.id }
func (c *Communicator) Name() string { return c.name }
func (c *Communicator) Address() string { return c.address }
func (c *Communicator) ListenAddr() netx.Addr { return c.listenAddr }
func (c *Communicator) SeedID() string { return c.seedID }
func (c *Communicator) SeedAddress() string { return c.seedAddress }
func (c *Communicator) Table() *dht.PeerTable { return c.table }
func (c *Communicator) RecvTimeout() time.Duration { return c.recvTimeout }

// Accept waits up to timeout for the next inbound request connection.
func (c *Communicator) Accept(timeout time.Duration) (netx.Conn, error) {
	return c.net.Accept(timeout)
}

// Close releases the listener. Outbound sends keep working.
func (c *Communicator) Close() error {
	return c.net.Close()
}
