// =============================================================================
// IN-MEMORY TRANSPORT - Testing/Demo Implementation
// =============================================================================
//
// All nodes live in one process and register a Handler under their id. Send
// looks the target up and calls its handler on the sender's goroutine, which
// is exactly the synchronous RPC the protocol expects.
//
// NETWORK SIMULATION
//
//   SetDropRate(p)  every Send fails with ErrDropped with probability p
//   Disconnect(id)  every Send from or to id fails with ErrUnreachable
//   Reconnect(id)   undoes Disconnect
//
// NOT FOR PRODUCTION: only works within a single process.
//
// =============================================================================

package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/senutpal/quorumkv/internal/paxos"
)

type MemoryNetwork struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	down     map[string]bool
	dropRate float64
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		handlers: make(map[string]Handler),
		down:     make(map[string]bool),
	}
}

func (n *MemoryNetwork) Register(id string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[id] = h
}

func (n *MemoryNetwork) Unregister(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id)
}

func (n *MemoryNetwork) Disconnect(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[id] = true
}

func (n *MemoryNetwork) Reconnect(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.down, id)
}

func (n *MemoryNetwork) SetDropRate(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropRate = p
}

func (n *MemoryNetwork) Send(ctx context.Context, msg paxos.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.RLock()
	h, ok := n.handlers[msg.To]
	down := n.down[msg.From] || n.down[msg.To]
	drop := n.dropRate
	n.mu.RUnlock()

	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrUnknownNode, msg.To)
	case down:
		return fmt.Errorf("%w: %s -> %s", ErrUnreachable, msg.From, msg.To)
	case drop > 0 && rand.Float64() < drop:
		log.Debugf("dropping %s", msg)
		return ErrDropped
	}
	return h.ReceiveMessage(ctx, msg)
}
