// =============================================================================
// STORAGE INTERFACE - The Replicated Key-Value Data
// =============================================================================
//
// Store is the state machine every node replicates: a map of string keys to
// string values. Two backends implement it:
//
// - MemoryStorage: a map guarded by an RWMutex
// - BadgerStorage: an in-memory badger DB
//
// Neither survives a process restart; durability is not a goal here.
//
// Writes happen only when a node applies an agreed operation, with that key's
// lock held. Reads are unlocked and may observe a concurrent write.
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"slices"
)

var ErrClosed = errors.New("storage: closed")

type Store interface {
	Put(key, value string) error
	// Get reports ok=false for a missing key.
	Get(key string) (value string, ok bool, err error)
	// Delete of a missing key is not an error.
	Delete(key string) error
	// All lists every pair as "key->value", sorted by key.
	All() ([]string, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Open builds a store for the named backend.
func Open(backend string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStorage(), nil
	case BackendBadger:
		return OpenInMemoryBadger()
	}
	return nil, fmt.Errorf("storage: unknown backend %q", backend)
}

func formatPairs(pairs map[string]string) []string {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"->"+pairs[k])
	}
	return out
}
