// Package shellindex keeps shell descriptors fetched during discovery in a
// concurrent in-memory map. The index is a write-through convenience, never a
// source of truth: on-demand lookups always re-fetch upstream.
package shellindex

import (
	"sync"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Index is a concurrent map of shell id to descriptor.
type Index struct {
	mu     sync.RWMutex
	shells map[string]types.ShellDescriptor
}

// New creates an empty shell index.
func New() *Index {
	return &Index{shells: map[string]types.ShellDescriptor{}}
}

// Put stores a descriptor under its shell id. Descriptors without an id are
// ignored.
func (i *Index) Put(shell types.ShellDescriptor) {
	id := types.ShellID(shell)
	if id == "" {
		return
	}
	i.mu.Lock()
	i.shells[id] = types.DeepCopyJSON(shell)
	i.mu.Unlock()
}

// Get returns a deep copy of the descriptor, or false when unknown.
func (i *Index) Get(shellID string) (types.ShellDescriptor, bool) {
	i.mu.RLock()
	shell, ok := i.shells[shellID]
	i.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return types.DeepCopyJSON(shell), true
}

// Snapshot returns deep copies of every indexed descriptor.
func (i *Index) Snapshot() []types.ShellDescriptor {
	i.mu.RLock()
	defer i.mu.RUnlock()

	shells := make([]types.ShellDescriptor, 0, len(i.shells))
	for _, shell := range i.shells {
		shells = append(shells, types.DeepCopyJSON(shell))
	}
	return shells
}

// Delete removes one descriptor.
func (i *Index) Delete(shellID string) {
	i.mu.Lock()
	delete(i.shells, shellID)
	i.mu.Unlock()
}

// Purge drops the whole index.
func (i *Index) Purge() {
	i.mu.Lock()
	i.shells = map[string]types.ShellDescriptor{}
	i.mu.Unlock()
}

// Len returns the number of indexed shells.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.shells)
}
