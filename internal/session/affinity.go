package session

import (
	"sync"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// Affinity remembers which backend last served each conversation.
type Affinity struct {
	mu       sync.RWMutex
	backends map[string]types.Backend
}

func NewAffinity() *Affinity {
	return &Affinity{backends: make(map[string]types.Backend)}
}

// Set records backend for cid. Empty ids are ignored.
func (a *Affinity) Set(cid string, backend types.Backend) {
	if cid == "" {
		return
	}
	a.mu.Lock()
	a.backends[cid] = backend
	a.mu.Unlock()
}

func (a *Affinity) Get(cid string) (types.Backend, bool) {
	if cid == "" {
		return "", false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.backends[cid]
	return b, ok
}

func (a *Affinity) Clear() {
	a.mu.Lock()
	a.backends = make(map[string]types.Backend)
	a.mu.Unlock()
}

// Counts returns the number of conversations per backend.
func (a *Affinity) Counts() (total, sider, anthropic int) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, b := range a.backends {
		switch b {
		case types.BackendSider:
			sider++
		case types.BackendAnthropic:
			anthropic++
		}
	}
	return len(a.backends), sider, anthropic
}
