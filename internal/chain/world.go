package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// World bundles the shared execution substrate. The engine packages are not safe for
// concurrent use, so every external driver goes through Do or View.
type World struct {
	mu      sync.RWMutex
	Ledger  *Ledger
	Journal *Journal
	Clock   Clock
}

func NewWorld(clock Clock) *World {
	ledger := NewLedger()
	return &World{
		Ledger:  ledger,
		Journal: NewJournal(ledger),
		Clock:   clock,
	}
}

// Do runs fn exclusively and atomically.
func (w *World) Do(fn func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Journal.Atomic(fn)
}

// View runs a read only fn. Concurrent views are allowed.
func (w *World) View(fn func() error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return fn()
}

// NameToAddress derives a stable account address from a human readable name.
func NameToAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(name))[12:])
}
