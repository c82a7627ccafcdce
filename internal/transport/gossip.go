package transport

import (
	"learn-to-share/internal/proto"
)

// Populate asks the best-latency peer for one of its peers and adds the answer
// to the table. It reports the discovered id, or false when no measured peer
// exists or the reply carried nothing usable.
func (c *Communicator) Populate() (string, bool) {
	best, ok := c.table.BestLatencyPeer("")
	if !ok {
		c.log.Debug("populate: no measured peer")
		return "", false
	}

	req := proto.NewMessage(proto.TypeDHTGetPeer, "", c.id, best.PeerID)
	resp, err := c.SendMessage(best.PeerID, req)
	if err != nil || resp.Type != proto.TypeResponse {
		return "", false
	}

	var info proto.PeerInfo
	if err := proto.DecodeContent(resp.Content, &info); err != nil {
		c.log.Warn("populate: bad peer info", "from", best.PeerID, "err", err)
		return "", false
	}
	if info.ID == "" || info.Address == "" || info.ID == c.id {
		return "", false
	}

	c.table.Add(info.ID, info.Address, 0)
	c.log.Info("populate: discovered peer", "via", best.PeerID, "peer", info.ID, "address", info.Address)
	return info.ID, true
}

// Subscribe tells peer to about this agent's id and address.
func (c *Communicator) Subscribe(to string) error {
	info := proto.PeerInfo{ID: c.id, Address: c.address}
	_, err := c.SendMessage(to, proto.NewMessage(proto.TypeDHTSubscribe, proto.MustContent(info), c.id, to))
	return err
}
