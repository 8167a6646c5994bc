package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"
	"inference-ops-service/pkg/provider"
)

var ErrEndpointNotMonitored = errors.New("endpoint not monitored")

// StateCache receives the latest monitoring state of an endpoint after every poll.
type StateCache interface {
	StoreMonitoring(ctx context.Context, state *models.DeploymentMonitoring) error
	DeleteMonitoring(ctx context.Context, endpointID string) error
}

type Options struct {
	Thresholds        models.AlertThresholds
	HistoryRetention  time.Duration
	MaxHistoryEntries int
	Cache             StateCache
	Clock             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Thresholds:        models.DefaultThresholds(),
		HistoryRetention:  24 * time.Hour,
		MaxHistoryEntries: 2880,
	}
}

// HealthChange is the payload of a health_changed event.
type HealthChange struct {
	EndpointID string              `json:"endpointId"`
	Previous   models.HealthStatus `json:"previous"`
	Current    models.HealthStatus `json:"current"`
}

// EndpointFailure is the payload of an endpoint_error event.
type EndpointFailure struct {
	EndpointID string `json:"endpointId"`
	Error      string `json:"error"`
}

// endpointRecord is written only by the poll that owns the endpoint; mu lets
// queries read it concurrently. pollMu orders a poll's alert, event and cache
// work against removal, so nothing is raised for an endpoint once removed is set.
type endpointRecord struct {
	mu    sync.Mutex
	state models.DeploymentMonitoring

	pollMu  sync.Mutex
	removed bool
}

// Monitor polls every monitored endpoint, keeps its metrics history and health,
// and drives the AlertManager. Scheduling is left to the caller.
type Monitor struct {
	gateway provider.Gateway
	events  events.Publisher
	alerts  *AlertManager
	opts    Options
	now     func() time.Time

	mu        sync.RWMutex
	endpoints map[string]*endpointRecord
}

func NewMonitor(gateway provider.Gateway, publisher events.Publisher, opts Options) *Monitor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	defaults := DefaultOptions()
	if opts.Thresholds == (models.AlertThresholds{}) {
		opts.Thresholds = defaults.Thresholds
	}
	if opts.HistoryRetention <= 0 {
		opts.HistoryRetention = defaults.HistoryRetention
	}
	if opts.MaxHistoryEntries <= 0 {
		opts.MaxHistoryEntries = defaults.MaxHistoryEntries
	}

	alerts := NewAlertManager(publisher)
	alerts.now = opts.Clock

	return &Monitor{
		gateway:   gateway,
		events:    publisher,
		alerts:    alerts,
		opts:      opts,
		now:       opts.Clock,
		endpoints: make(map[string]*endpointRecord),
	}
}

func (m *Monitor) Alerts() *AlertManager {
	return m.alerts
}

func (m *Monitor) Thresholds() models.AlertThresholds {
	return m.opts.Thresholds
}

// AddEndpoint starts monitoring an endpoint. The initial fetch must succeed;
// nothing is registered otherwise. Adding a monitored endpoint is a no-op.
func (m *Monitor) AddEndpoint(ctx context.Context, endpointID string) (*models.DeploymentMonitoring, error) {
	if existing, err := m.GetMonitoring(endpointID); err == nil {
		return existing, nil
	}

	endpoint, err := m.gateway.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch endpoint %s: %w", endpointID, err)
	}
	metrics, err := m.gateway.GetEndpointMetrics(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics for endpoint %s: %w", endpointID, err)
	}

	now := m.now()
	status := EvaluateHealth(*metrics, m.opts.Thresholds)
	rec := &endpointRecord{
		state: models.DeploymentMonitoring{
			EndpointID:   endpointID,
			Endpoint:     *endpoint,
			Metrics:      *metrics,
			History:      []models.MetricsSample{{Metrics: *metrics, HealthStatus: status, Up: true, RecordedAt: now}},
			HealthStatus: status,
			Uptime:       100,
			LastUpdated:  now,
		},
	}

	m.mu.Lock()
	if existing, ok := m.endpoints[endpointID]; ok {
		m.mu.Unlock()
		return existing.snapshot(m.alerts), nil
	}
	m.endpoints[endpointID] = rec
	m.mu.Unlock()

	logger.Info("Endpoint added to monitoring",
		logger.String("endpoint_id", endpointID),
		logger.String("health", string(status)))

	state := rec.snapshot(m.alerts)
	m.events.Publish(events.Event{Type: events.EndpointAdded, ResourceID: endpointID, Payload: *state})
	m.cache(ctx, state)
	return state, nil
}

// RemoveEndpoint stops monitoring an endpoint and forgets its alerts.
func (m *Monitor) RemoveEndpoint(ctx context.Context, endpointID string) error {
	m.mu.Lock()
	rec, ok := m.endpoints[endpointID]
	delete(m.endpoints, endpointID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrEndpointNotMonitored, endpointID)
	}

	rec.pollMu.Lock()
	defer rec.pollMu.Unlock()
	rec.removed = true

	m.alerts.DropEndpoint(endpointID)
	if m.opts.Cache != nil {
		if err := m.opts.Cache.DeleteMonitoring(ctx, endpointID); err != nil {
			logger.Warn("Failed to drop cached monitoring state", logger.String("endpoint_id", endpointID), logger.Err(err))
		}
	}

	logger.Info("Endpoint removed from monitoring", logger.String("endpoint_id", endpointID))
	m.events.Publish(events.Event{Type: events.EndpointRemoved, ResourceID: endpointID})
	return nil
}

// DiscoverEndpoints adds every non-terminated provider endpoint that is not yet
// monitored and returns how many were added.
func (m *Monitor) DiscoverEndpoints(ctx context.Context) (int, error) {
	endpoints, err := m.gateway.ListEndpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list endpoints: %w", err)
	}

	added := 0
	for _, ep := range endpoints {
		if ep.Status == models.EndpointTerminated || m.isMonitored(ep.ID) {
			continue
		}
		if _, err := m.AddEndpoint(ctx, ep.ID); err != nil {
			logger.Error("Failed to add discovered endpoint", logger.String("endpoint_id", ep.ID), logger.Err(err))
			continue
		}
		added++
	}
	return added, nil
}

// Tick polls all monitored endpoints concurrently and returns once every poll
// finished. Provider errors are contained per endpoint.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.RLock()
	records := make(map[string]*endpointRecord, len(m.endpoints))
	for id, rec := range m.endpoints {
		records[id] = rec
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for id, rec := range records {
		wg.Add(1)
		go func(id string, rec *endpointRecord) {
			defer wg.Done()
			m.pollEndpoint(ctx, id, rec)
		}(id, rec)
	}
	wg.Wait()
}

func (m *Monitor) pollEndpoint(ctx context.Context, endpointID string, rec *endpointRecord) {
	endpoint, err := m.gateway.GetEndpoint(ctx, endpointID)
	if err != nil {
		m.handlePollError(ctx, endpointID, rec, err)
		return
	}

	if endpoint.Status == models.EndpointTerminated {
		logger.Info("Endpoint terminated", logger.String("endpoint_id", endpointID))
		if err := m.RemoveEndpoint(ctx, endpointID); err != nil && !errors.Is(err, ErrEndpointNotMonitored) {
			logger.Error("Failed to remove terminated endpoint", logger.String("endpoint_id", endpointID), logger.Err(err))
		}
		return
	}

	metrics, err := m.gateway.GetEndpointMetrics(ctx, endpointID)
	if err != nil {
		m.handlePollError(ctx, endpointID, rec, err)
		return
	}

	rec.pollMu.Lock()
	defer rec.pollMu.Unlock()
	if rec.removed {
		return
	}

	now := m.now()
	status := EvaluateHealth(*metrics, m.opts.Thresholds)

	rec.mu.Lock()
	previous := rec.state.HealthStatus
	rec.state.Endpoint = *endpoint
	rec.state.Metrics = *metrics
	rec.state.HealthStatus = status
	rec.state.LastUpdated = now
	rec.appendSample(models.MetricsSample{Metrics: *metrics, HealthStatus: status, Up: true, RecordedAt: now}, m.opts)
	rec.mu.Unlock()

	m.alerts.ResolveType(endpointID, models.AlertEndpointDown)
	m.alerts.ResolveRecovered(endpointID, *metrics, m.opts.Thresholds)
	m.alerts.CheckAlerts(endpointID, *metrics, m.opts.Thresholds)

	m.events.Publish(events.Event{Type: events.MetricsUpdated, ResourceID: endpointID, Payload: *metrics})
	m.publishHealthChange(endpointID, previous, status)
	m.cache(ctx, rec.snapshot(m.alerts))
}

func (m *Monitor) handlePollError(ctx context.Context, endpointID string, rec *endpointRecord, pollErr error) {
	rec.pollMu.Lock()
	defer rec.pollMu.Unlock()
	if rec.removed {
		return
	}

	now := m.now()

	rec.mu.Lock()
	previous := rec.state.HealthStatus
	rec.state.HealthStatus = models.HealthCritical
	rec.state.LastUpdated = now
	rec.appendSample(models.MetricsSample{HealthStatus: models.HealthCritical, Up: false, RecordedAt: now}, m.opts)
	rec.mu.Unlock()

	logger.Error("Failed to poll endpoint", logger.String("endpoint_id", endpointID), logger.Err(pollErr))

	m.alerts.CreateOrUpdateAlert(endpointID, models.AlertEndpointDown, models.SeverityCritical,
		fmt.Sprintf("%s: %v", alertMessage(models.AlertEndpointDown, 0, 0), pollErr), 0, 0)

	m.events.Publish(events.Event{
		Type:       events.EndpointError,
		ResourceID: endpointID,
		Payload:    EndpointFailure{EndpointID: endpointID, Error: pollErr.Error()},
	})
	m.publishHealthChange(endpointID, previous, models.HealthCritical)
	m.cache(ctx, rec.snapshot(m.alerts))
}

func (m *Monitor) publishHealthChange(endpointID string, previous, current models.HealthStatus) {
	if previous == current {
		return
	}
	logger.Info("Endpoint health changed",
		logger.String("endpoint_id", endpointID),
		logger.String("previous", string(previous)),
		logger.String("current", string(current)))
	m.events.Publish(events.Event{
		Type:       events.HealthChanged,
		ResourceID: endpointID,
		Payload:    HealthChange{EndpointID: endpointID, Previous: previous, Current: current},
	})
}

func (m *Monitor) cache(ctx context.Context, state *models.DeploymentMonitoring) {
	// a poll can finish after the endpoint was removed; its state must not come back
	if m.opts.Cache == nil || state == nil || !m.isMonitored(state.EndpointID) {
		return
	}
	if err := m.opts.Cache.StoreMonitoring(ctx, state); err != nil {
		logger.Warn("Failed to cache monitoring state", logger.String("endpoint_id", state.EndpointID), logger.Err(err))
	}
}

// PurgeHistory drops history samples older than the retention window.
func (m *Monitor) PurgeHistory() int {
	cutoff := m.now().Add(-m.opts.HistoryRetention)
	purged := 0

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.endpoints {
		rec.mu.Lock()
		before := len(rec.state.History)
		rec.state.History = trimHistory(rec.state.History, cutoff, m.opts.MaxHistoryEntries)
		rec.state.Uptime = calculateUptime(rec.state.History, rec.state.HealthStatus != models.HealthCritical)
		purged += before - len(rec.state.History)
		rec.mu.Unlock()
	}
	return purged
}

func (m *Monitor) isMonitored(endpointID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.endpoints[endpointID]
	return ok
}

func (m *Monitor) GetMonitoring(endpointID string) (*models.DeploymentMonitoring, error) {
	m.mu.RLock()
	rec, ok := m.endpoints[endpointID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotMonitored, endpointID)
	}
	return rec.snapshot(m.alerts), nil
}

// GetAllMonitoring returns a copy of every monitoring record, ordered by endpoint id.
func (m *Monitor) GetAllMonitoring() []models.DeploymentMonitoring {
	m.mu.RLock()
	records := make([]*endpointRecord, 0, len(m.endpoints))
	for _, rec := range m.endpoints {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	all := make([]models.DeploymentMonitoring, 0, len(records))
	for _, rec := range records {
		all = append(all, *rec.snapshot(m.alerts))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].EndpointID < all[j].EndpointID })
	return all
}

func (m *Monitor) GetStats() models.MonitoringStats {
	all := m.GetAllMonitoring()
	stats := models.MonitoringStats{TotalEndpoints: len(all)}

	var latency, uptime float64
	for _, dm := range all {
		switch dm.HealthStatus {
		case models.HealthHealthy:
			stats.Healthy++
		case models.HealthWarning:
			stats.Warning++
		case models.HealthCritical:
			stats.Critical++
		default:
			stats.Unknown++
		}
		latency += dm.Metrics.AvgResponseTime
		uptime += dm.Uptime
		stats.EstimatedHourlyCost += dm.Endpoint.CostPerHour
	}
	if len(all) > 0 {
		stats.AverageResponseTime = latency / float64(len(all))
		stats.AverageUptime = uptime / float64(len(all))
	}
	stats.ActiveAlerts = len(m.alerts.GetActiveAlerts())
	return stats
}

func (m *Monitor) GetEndpointAlerts(endpointID string, activeOnly bool) []models.Alert {
	return m.alerts.GetEndpointAlerts(endpointID, activeOnly)
}

func (m *Monitor) GetActiveAlerts() []models.Alert {
	return m.alerts.GetActiveAlerts()
}

// RestoreAlerts seeds the active alerts of a monitored endpoint from a cached
// record. Unmonitored endpoints get nothing.
func (m *Monitor) RestoreAlerts(endpointID string, alerts []models.Alert) int {
	m.mu.RLock()
	rec, ok := m.endpoints[endpointID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	rec.pollMu.Lock()
	defer rec.pollMu.Unlock()
	if rec.removed {
		return 0
	}
	return m.alerts.Restore(endpointID, alerts)
}

func (m *Monitor) ResolveAlert(alertID string) bool {
	return m.alerts.ResolveAlert(alertID)
}

func (r *endpointRecord) appendSample(sample models.MetricsSample, opts Options) {
	r.state.History = append(r.state.History, sample)
	if len(r.state.History) > opts.MaxHistoryEntries {
		r.state.History = trimHistory(r.state.History, time.Time{}, opts.MaxHistoryEntries)
	}
	r.state.Uptime = calculateUptime(r.state.History, sample.Up)
}

func (r *endpointRecord) snapshot(alerts *AlertManager) *models.DeploymentMonitoring {
	r.mu.Lock()
	state := r.state
	state.History = append([]models.MetricsSample(nil), r.state.History...)
	r.mu.Unlock()

	state.Alerts = alerts.GetEndpointAlerts(state.EndpointID, false)
	return &state
}
