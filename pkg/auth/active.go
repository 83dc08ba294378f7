package auth

import (
	"sync"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

// activeCell holds the current connection together with a version stamp.
// Writers that raced against a concurrent switch can detect it by comparing
// versions and discard their stale result.
type activeCell struct {
	mu      sync.RWMutex
	conn    types.Connection
	version uint64
}

func (c *activeCell) get() (types.Connection, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn, c.version
}

// set installs a new active connection and bumps the version.
func (c *activeCell) set(conn types.Connection) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.version++
	return c.version
}

// setIfCurrent installs conn only when the cell is still at the observed
// version. Returns false when a concurrent switch won.
func (c *activeCell) setIfCurrent(conn types.Connection, observed uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != observed {
		return false
	}
	c.conn = conn
	c.version++
	return true
}

// clearIf drops the active connection when it matches id.
func (c *activeCell) clearIf(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.ID() != id {
		return false
	}
	c.conn = nil
	c.version++
	return true
}
