package infrastructure

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/Shinox-lab/dashboard/internal/modules/relay/application/port"
	"github.com/Shinox-lab/dashboard/internal/platform/metrics"
)

type member struct {
	conn port.Conn
	seq  uint64
}

// ClientRegistry holds the connections that receive every relayed envelope.
// The mutex only guards membership; sends always happen on a Snapshot copy.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]member
	seq     uint64
	metrics *metrics.Metrics
}

var _ port.ClientRegistry = (*ClientRegistry)(nil)

func NewClientRegistry(m *metrics.Metrics) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]member),
		metrics: m,
	}
}

// Register adds conn. A stale connection holding the same id is detached and closed.
func (r *ClientRegistry) Register(conn port.Conn) {
	if conn == nil {
		return
	}
	var stale port.Conn
	r.mu.Lock()
	if existing, ok := r.clients[conn.ID()]; ok {
		if existing.conn == conn {
			r.mu.Unlock()
			return
		}
		stale = existing.conn
	}
	r.seq++
	r.clients[conn.ID()] = member{conn: conn, seq: r.seq}
	count := len(r.clients)
	r.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
		slog.Warn("ws client replaced stale connection", slog.String("clientId", conn.ID()))
	}
	r.metrics.SetConnectedClients(count)
	slog.Info("ws client registered", slog.String("clientId", conn.ID()), slog.Int("clients", count))
}

// Unregister removes conn; calling it for an absent connection does nothing.
func (r *ClientRegistry) Unregister(conn port.Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	removed := r.removeLocked(conn)
	count := len(r.clients)
	r.mu.Unlock()

	if removed {
		r.metrics.SetConnectedClients(count)
		slog.Info("ws client removed", slog.String("clientId", conn.ID()), slog.Int("clients", count))
	}
}

// UnregisterAll removes a batch of connections under a single lock.
func (r *ClientRegistry) UnregisterAll(conns []port.Conn) {
	if len(conns) == 0 {
		return
	}
	removed := 0
	r.mu.Lock()
	for _, conn := range conns {
		if conn != nil && r.removeLocked(conn) {
			removed++
		}
	}
	count := len(r.clients)
	r.mu.Unlock()

	if removed > 0 {
		r.metrics.SetConnectedClients(count)
		slog.Info("ws clients dropped", slog.Int("dropped", removed), slog.Int("clients", count))
	}
}

// removeLocked only deletes the entry when it still belongs to conn, so a late
// removal of a replaced connection cannot evict its successor.
func (r *ClientRegistry) removeLocked(conn port.Conn) bool {
	existing, ok := r.clients[conn.ID()]
	if !ok || existing.conn != conn {
		return false
	}
	delete(r.clients, conn.ID())
	return true
}

// Snapshot copies the membership in registration order.
func (r *ClientRegistry) Snapshot() []port.Conn {
	r.mu.RLock()
	members := make([]member, 0, len(r.clients))
	for _, m := range r.clients {
		members = append(members, m)
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })
	out := make([]port.Conn, len(members))
	for i, m := range members {
		out[i] = m.conn
	}
	return out
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes and removes every member. Used once the shutdown grace expired.
func (r *ClientRegistry) CloseAll() int {
	r.mu.Lock()
	conns := make([]port.Conn, 0, len(r.clients))
	for _, m := range r.clients {
		conns = append(conns, m.conn)
	}
	r.clients = make(map[string]member)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c port.Conn) {
			defer wg.Done()
			_ = c.Close()
		}(conn)
	}
	wg.Wait()
	r.metrics.SetConnectedClients(0)
	if len(conns) > 0 {
		slog.Info("ws clients force closed", slog.Int("clients", len(conns)))
	}
	return len(conns)
}
