package agent

import "learn-to-share/internal/dht"

// Snapshot is a point-in-time view of an agent, safe to marshal.
type Snapshot struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Address     string      `json:"address"`
	SeedID      string      `json:"seed_id"`
	SeedAddress string      `json:"seed_address"`
	Running     bool        `json:"running"`
	Peers       []dht.Entry `json:"peers"`
}

func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		ID:          a.id,
		Name:        a.cfg.Name,
		Address:     a.comm.Address(),
		SeedID:      a.comm.SeedID(),
		SeedAddress: a.comm.SeedAddress(),
		Running:     a.Running(),
		Peers:       a.table.Snapshot(),
	}
}
