package relay

import (
	"log/slog"
	"sync"

	"github.com/vango-go/village-live/pkg/live/metrics"
	"github.com/vango-go/village-live/pkg/live/protocol"
)

// Peer is one connected dashboard.
type Peer interface {
	WriteFrame(frame []byte) error
	Close() error
}

// Hub tracks connected peers and which calls each one watches.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	peers map[Peer]*hubEntry
	calls map[string]map[Peer]struct{}
}

type hubEntry struct {
	calls map[string]struct{}
	once  sync.Once
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		metrics: m,
		peers:   make(map[Peer]*hubEntry),
		calls:   make(map[string]map[Peer]struct{}),
	}
}

// Register adds p. The returned func removes it and is safe to call more
// than once.
func (h *Hub) Register(p Peer) (unregister func()) {
	if h == nil || p == nil {
		return func() {}
	}
	entry := &hubEntry{calls: make(map[string]struct{})}

	h.mu.Lock()
	old := h.peers[p]
	h.peers[p] = entry
	h.mu.Unlock()

	if old != nil {
		h.unregister(p, old)
	}
	h.metrics.RecordRelayConnOpen()
	return func() { h.unregister(p, entry) }
}

func (h *Hub) unregister(p Peer, entry *hubEntry) {
	entry.once.Do(func() {
		h.mu.Lock()
		if h.peers[p] == entry {
			delete(h.peers, p)
		}
		for callID := range entry.calls {
			subs := h.calls[callID]
			delete(subs, p)
			if len(subs) == 0 {
				delete(h.calls, callID)
			}
		}
		h.mu.Unlock()
		h.metrics.RecordRelayConnClose()
	})
}

// drop unregisters and closes a peer whose write failed.
func (h *Hub) drop(p Peer, err error) {
	h.mu.Lock()
	entry := h.peers[p]
	h.mu.Unlock()
	if entry == nil {
		return
	}
	h.logger.Debug("dropping relay peer", "error", err)
	h.unregister(p, entry)
	_ = p.Close()
}

// Subscribe adds p to callID's subscribers. Subscribing twice is a no-op.
// It reports false when p is not registered.
func (h *Hub) Subscribe(p Peer, callID string) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := h.peers[p]
	if entry == nil {
		return false
	}
	entry.calls[callID] = struct{}{}
	subs := h.calls[callID]
	if subs == nil {
		subs = make(map[Peer]struct{})
		h.calls[callID] = subs
	}
	subs[p] = struct{}{}
	return true
}

func (h *Hub) Count() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Subscribers returns how many peers watch callID.
func (h *Hub) Subscribers(callID string) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls[callID])
}

// Broadcast sends ev to every peer.
func (h *Hub) Broadcast(ev protocol.Event) (sent int) {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	targets := make([]Peer, 0, len(h.peers))
	for p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.Unlock()
	return h.send(targets, ev)
}

// BroadcastToCall sends ev to the peers subscribed to callID.
func (h *Hub) BroadcastToCall(callID string, ev protocol.Event) (sent int) {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	subs := h.calls[callID]
	targets := make([]Peer, 0, len(subs))
	for p := range subs {
		targets = append(targets, p)
	}
	h.mu.Unlock()
	return h.send(targets, ev)
}

func (h *Hub) send(targets []Peer, ev protocol.Event) (sent int) {
	if len(targets) == 0 {
		return 0
	}
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		h.logger.Error("encode broadcast", "event_type", ev.EventType(), "error", err)
		return 0
	}
	for _, p := range targets {
		if err := p.WriteFrame(frame); err != nil {
			h.drop(p, err)
			continue
		}
		sent++
	}
	h.metrics.RecordBroadcast(ev.EventType())
	return sent
}

// CloseAll closes every peer and empties the hub.
func (h *Hub) CloseAll() (closed int) {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	type pair struct {
		p     Peer
		entry *hubEntry
	}
	all := make([]pair, 0, len(h.peers))
	for p, entry := range h.peers {
		all = append(all, pair{p, entry})
	}
	h.mu.Unlock()

	for _, pe := range all {
		h.unregister(pe.p, pe.entry)
		_ = pe.p.Close()
		closed++
	}
	return closed
}
