package hub

import (
	"sync"

	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// ParsePolicy maps "drop" or "kick" to a policy; anything else is drop.
func ParsePolicy(s string) BackpressurePolicy {
	if s == "kick" {
		return PolicyKick
	}
	return PolicyDrop
}

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// Client is one connection's outbound line queue. Lines carry their CRLF.
type Client struct {
	Out       chan string
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient allocates a client with an outbound queue of size buf.
func NewClient(buf int) *Client {
	if buf <= 0 {
		buf = 1
	}
	return &Client{Out: make(chan string, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast queues line for every connected client.
func (h *Hub) Broadcast(line string) { h.Deliver(line, h.Snapshot()...) }

// Deliver queues line for each of the given clients honoring the
// backpressure policy. It never blocks.
func (h *Hub) Deliver(line string, to ...*Client) {
	if len(to) == 0 {
		return
	}
	maxDepth, sum := 0, 0
	for _, c := range to {
		l := len(c.Out)
		maxDepth = max(maxDepth, l)
		sum += l
	}
	metrics.SetQueueDepth(maxDepth, sum/len(to))
	for _, c := range to {
		h.Send(c, line)
	}
}

// Send queues line for a single client. A full queue drops the line or, under
// PolicyKick, closes the client; the writer then tears the connection down.
func (h *Hub) Send(c *Client, line string) bool {
	select {
	case <-c.Closed:
		return false
	default:
	}
	select {
	case c.Out <- line:
		return true
	default:
		if h.Policy == PolicyKick {
			metrics.IncHubKick()
			c.Close()
		} else {
			metrics.IncHubDrop()
		}
		return false
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
