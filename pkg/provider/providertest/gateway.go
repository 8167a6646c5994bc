// Package providertest provides an in-memory provider.Gateway for tests.
package providertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"inference-ops-service/pkg/models"
)

// Gateway method names used for error injection and call recording.
const (
	MethodGetEndpoint        = "GetEndpoint"
	MethodGetEndpointMetrics = "GetEndpointMetrics"
	MethodGetEndpointHealth  = "GetEndpointHealth"
	MethodUpdateEndpoint     = "UpdateEndpoint"
	MethodRestartEndpoint    = "RestartEndpoint"
	MethodListEndpoints      = "ListEndpoints"
)

type Call struct {
	Method string
	ID     string
	Update models.EndpointUpdate
}

// Gateway is a scriptable provider. All methods are safe for concurrent use.
type Gateway struct {
	mu        sync.Mutex
	endpoints map[string]*models.EndpointState
	metrics   map[string]models.EndpointMetrics
	health    map[string]models.EndpointHealth
	errs      map[string]error
	calls     []Call

	// OnUpdate, when set, runs before an update is applied. A non-nil error
	// fails the call.
	OnUpdate func(ctx context.Context, id string, update models.EndpointUpdate) error
	// OnRestart, when set, runs before a restart is recorded.
	OnRestart func(ctx context.Context, id string) error
}

func New() *Gateway {
	return &Gateway{
		endpoints: make(map[string]*models.EndpointState),
		metrics:   make(map[string]models.EndpointMetrics),
		health:    make(map[string]models.EndpointHealth),
		errs:      make(map[string]error),
	}
}

// AddEndpoint registers a running endpoint with one ready worker.
func (g *Gateway) AddEndpoint(state models.EndpointState, metrics models.EndpointMetrics) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state.Status == "" {
		state.Status = models.EndpointRunning
	}
	s := state
	s.EnvVars = models.CopyEnv(state.EnvVars)
	g.endpoints[state.ID] = &s
	g.metrics[state.ID] = metrics
	g.health[state.ID] = models.EndpointHealth{
		Status:       models.EndpointRunning,
		WorkersReady: 1,
		LastActivity: time.Now(),
	}
}

func (g *Gateway) SetMetrics(id string, metrics models.EndpointMetrics) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics[id] = metrics
}

func (g *Gateway) SetHealth(id string, health models.EndpointHealth) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.health[id] = health
}

func (g *Gateway) SetStatus(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ep, ok := g.endpoints[id]; ok {
		ep.Status = status
	}
}

// SetError makes every call of method for id fail with err. A nil err clears it.
func (g *Gateway) SetError(method, id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := method + "/" + id
	if err == nil {
		delete(g.errs, key)
		return
	}
	g.errs[key] = err
}

// Endpoint returns a copy of the current state of id.
func (g *Gateway) Endpoint(id string) (models.EndpointState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ep, ok := g.endpoints[id]
	if !ok {
		return models.EndpointState{}, false
	}
	s := *ep
	s.EnvVars = models.CopyEnv(ep.EnvVars)
	return s, true
}

func (g *Gateway) Calls(method string) []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Call
	for _, c := range g.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) record(method, id string, update models.EndpointUpdate) error {
	g.calls = append(g.calls, Call{Method: method, ID: id, Update: update})
	if err, ok := g.errs[method+"/"+id]; ok {
		return err
	}
	return nil
}

func (g *Gateway) GetEndpoint(_ context.Context, id string) (*models.EndpointState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(MethodGetEndpoint, id, models.EndpointUpdate{}); err != nil {
		return nil, err
	}
	ep, ok := g.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	s := *ep
	s.EnvVars = models.CopyEnv(ep.EnvVars)
	return &s, nil
}

func (g *Gateway) GetEndpointMetrics(_ context.Context, id string) (*models.EndpointMetrics, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(MethodGetEndpointMetrics, id, models.EndpointUpdate{}); err != nil {
		return nil, err
	}
	m, ok := g.metrics[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return &m, nil
}

func (g *Gateway) GetEndpointHealth(_ context.Context, id string) (*models.EndpointHealth, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(MethodGetEndpointHealth, id, models.EndpointUpdate{}); err != nil {
		return nil, err
	}
	h, ok := g.health[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	return &h, nil
}

func (g *Gateway) UpdateEndpoint(ctx context.Context, id string, update models.EndpointUpdate) error {
	if g.OnUpdate != nil {
		if err := g.OnUpdate(ctx, id, update); err != nil {
			g.mu.Lock()
			g.calls = append(g.calls, Call{Method: MethodUpdateEndpoint, ID: id, Update: update})
			g.mu.Unlock()
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(MethodUpdateEndpoint, id, update); err != nil {
		return err
	}
	ep, ok := g.endpoints[id]
	if !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	if update.TemplateID != nil {
		ep.TemplateID = *update.TemplateID
	}
	if update.GPUType != nil {
		ep.GPUType = *update.GPUType
	}
	if update.GPUCount != nil {
		ep.GPUCount = *update.GPUCount
	}
	if update.ContainerImage != nil {
		ep.ContainerImage = *update.ContainerImage
	}
	if update.EnvVars != nil {
		ep.EnvVars = models.CopyEnv(update.EnvVars)
	}
	return nil
}

func (g *Gateway) RestartEndpoint(ctx context.Context, id string) error {
	if g.OnRestart != nil {
		if err := g.OnRestart(ctx, id); err != nil {
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(MethodRestartEndpoint, id, models.EndpointUpdate{}); err != nil {
		return err
	}
	if _, ok := g.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	return nil
}

func (g *Gateway) ListEndpoints(_ context.Context) ([]models.EndpointState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(MethodListEndpoints, "", models.EndpointUpdate{}); err != nil {
		return nil, err
	}
	out := make([]models.EndpointState, 0, len(g.endpoints))
	for _, ep := range g.endpoints {
		s := *ep
		s.EnvVars = models.CopyEnv(ep.EnvVars)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
