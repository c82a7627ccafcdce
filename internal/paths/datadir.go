package paths

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns a per-user directory for agent state. It prefers
// os.UserConfigDir and falls back to the current directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "learn-to-share")
	}
	return ".learn-to-share"
}

// AgentDB is the bbolt file that holds one agent's peers and owned chunks.
func AgentDB(dir, agentID string) string {
	return filepath.Join(filepath.Clean(dir), "agents", agentID+".db")
}
