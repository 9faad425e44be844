package backends

import (
	"context"
	"sort"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// Client is the part every backend client shares.
type Client interface {
	Name() types.Backend
	Configured() bool
}

// HealthChecker is implemented by clients that can probe their upstream.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Status is one row of the backend status report.
type Status struct {
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Registry manages backend clients
type Registry struct {
	clients map[types.Backend]Client
	enabled map[types.Backend]bool
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[types.Backend]Client),
		enabled: make(map[types.Backend]bool),
	}
}

// Register adds a client; enabled reflects the routing policy.
func (r *Registry) Register(client Client, enabled bool) {
	r.clients[client.Name()] = client
	r.enabled[client.Name()] = enabled
}

func (r *Registry) Get(name types.Backend) (Client, bool) {
	client, exists := r.clients[name]
	return client, exists
}

// List returns all registered backend names, sorted.
func (r *Registry) List() []types.Backend {
	names := make([]types.Backend, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Status reports each backend. With probe set, clients that can be health
// checked are contacted and marked unavailable on failure.
func (r *Registry) Status(ctx context.Context, probe bool) map[types.Backend]Status {
	out := make(map[types.Backend]Status, len(r.clients))
	for name, client := range r.clients {
		st := Status{
			Enabled:   r.enabled[name],
			Available: client.Configured(),
		}
		if probe && st.Available {
			if hc, ok := client.(HealthChecker); ok {
				if err := hc.Health(ctx); err != nil {
					st.Available = false
					st.Error = err.Error()
				}
			}
		}
		out[name] = st
	}
	return out
}
