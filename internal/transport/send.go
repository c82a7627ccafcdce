package transport

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"learn-to-share/internal/netx"
	"learn-to-share/internal/proto"
)

// SendMessage delivers m to peer to and waits for its reply. Every failure is
// logged and yields the CORE_NONE placeholder together with an error wrapping
// ErrUnknownPeer, ErrUnreachable, ErrTimeout or proto.ErrDecode. There is no
// retry. A successful round trip updates the peer's latency.
func (c *Communicator) SendMessage(to string, m proto.Message) (proto.Message, error) {
	kind := m.Type.String()

	addr, ok := c.table.Address(to)
	if !ok {
		c.log.Warn("send to peer not in table", "peer", to, "type", kind)
		c.metrics.IncSend(kind, false)
		return proto.Empty(), fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}

	start := time.Now()
	conn, err := c.net.Dial(netx.Addr(addr), c.dialTimeout)
	if err != nil {
		c.log.Warn("dial failed", "peer", to, "address", addr, "err", err)
		c.metrics.IncSend(kind, false)
		return proto.Empty(), fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(start.Add(c.recvTimeout))
	if err := proto.Encode(conn, m); err != nil {
		c.log.Warn("write failed", "peer", to, "err", err)
		c.metrics.IncSend(kind, false)
		if netx.IsTimeout(err) {
			return proto.Empty(), fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return proto.Empty(), fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := proto.Decode(bufio.NewReader(conn))
	if err != nil {
		c.metrics.IncSend(kind, false)
		if netx.IsTimeout(err) {
			c.log.Info("recv timeout", "peer", to, "type", kind)
			return proto.Empty(), fmt.Errorf("%w: %s", ErrTimeout, to)
		}
		c.log.Warn("bad reply", "peer", to, "type", kind, "err", err)
		return proto.Empty(), err
	}

	elapsed := time.Since(start)
	us := elapsed.Microseconds()
	if us <= 0 {
		us = 1
	}
	c.table.SetLatency(to, us)
	c.metrics.IncSend(kind, true)
	c.metrics.ObserveRoundTrip(elapsed)
	c.log.Debug("round trip", "peer", to, "type", kind, "latency_us", us)
	return resp, nil
}

// Send wraps content in a USER_DEFINED message for to.
func (c *Communicator) Send(to, content string) (proto.Message, error) {
	return c.SendMessage(to, proto.NewMessage(proto.TypeUserDefined, content, c.id, to))
}

// BroadcastMessage sends a copy of m to every known peer, one after the other.
// A failed peer does not stop the others and is not retried. It returns how
// many peers replied.
func (c *Communicator) BroadcastMessage(m proto.Message) int {
	delivered := 0
	for _, id := range c.table.PeerIDs() {
		if _, err := c.SendMessage(id, m.WithTo(id)); err != nil {
			c.log.Info("broadcast to peer failed", "peer", id, "type", m.Type.String(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast sends content as USER_DEFINED to every known peer.
func (c *Communicator) Broadcast(content string) int {
	return c.BroadcastMessage(proto.NewMessage(proto.TypeUserDefined, content, c.id, ""))
}

// Serve answers exactly one request on conn: the decoded message goes through
// dispatch and its result is written back. The connection is closed.
func (c *Communicator) Serve(conn netx.Conn, dispatch func(proto.Message) proto.Message) error {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.recvTimeout))

	req, err := proto.Decode(bufio.NewReader(conn))
	if err != nil {
		if errors.Is(err, proto.ErrDecode) && !netx.IsTimeout(err) {
			c.log.Warn("undecodable request", "remote", conn.RemoteAddr(), "err", err)
		}
		return err
	}
	resp := dispatch(req)
	if err := proto.Encode(conn, resp); err != nil {
		c.log.Warn("reply write failed", "peer", req.FromID, "err", err)
		return err
	}
	return nil
}
