package agent

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sat8bit/tavern/apperr"
)

// Registry はプロセス内で動いている Agent を ID で保持します。
// Agent のターン数はプロセスの寿命に閉じるため、永続化はしません。
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Add は a を登録し、新しい ID を返します。
func (r *Registry) Add(a *Agent) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = a
	return id
}

// Get は ID に対応する Agent を返します。無ければ NotFoundError です。
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, apperr.NotFound("agents", id)
	}
	return a, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
