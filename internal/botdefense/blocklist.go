package botdefense

import (
	"context"
	"sync"

	"github.com/quarterdeck/deck/internal/logger"
)

// BlocklistStore is the durable side of the blocklist. The core only
// appends; removal is an external management action.
type BlocklistStore interface {
	Append(ctx context.Context, addr string) error
}

// Blocklist is the in-memory blocked set consulted on every request,
// backed by an append-only durable store.
type Blocklist struct {
	mu    sync.RWMutex
	set   map[string]bool
	store BlocklistStore
	log   logger.Logger
}

// NewBlocklist seeds the in-memory set from previously persisted
// addresses.
func NewBlocklist(addrs []string, store BlocklistStore, log logger.Logger) *Blocklist {
	set := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		if a != "" {
			set[a] = true
		}
	}
	return &Blocklist{set: set, store: store, log: log}
}

// Contains reports whether addr is blocked. Hot path: read lock only.
func (b *Blocklist) Contains(addr string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set[addr]
}

// Block adds addr to the set and appends it to the durable store.
// Idempotent; a persistence failure keeps the in-memory block.
func (b *Blocklist) Block(ctx context.Context, addr string) {
	b.mu.Lock()
	already := b.set[addr]
	b.set[addr] = true
	b.mu.Unlock()

	if already {
		return
	}
	if b.store == nil {
		return
	}
	if err := b.store.Append(ctx, addr); err != nil {
		b.log.Error("failed to persist blocked address",
			logger.String("addr", addr),
			logger.Error(err))
	}
}

// Len returns the number of blocked addresses.
func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.set)
}
