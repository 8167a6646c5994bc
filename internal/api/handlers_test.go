package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"inference-ops-service/internal/monitoring"
	"inference-ops-service/internal/rollback"
	"inference-ops-service/internal/snapshot"
	"inference-ops-service/pkg/config"
	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"
	"inference-ops-service/pkg/provider/providertest"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("test")
	os.Exit(m.Run())
}

type testEnv struct {
	server   *Server
	gw       *providertest.Gateway
	bus      *events.Bus
	monitor  *monitoring.Monitor
	executor *rollback.Executor
}

func newTestEnv(t *testing.T, services map[string]HealthChecker) *testEnv {
	t.Helper()
	gw := providertest.New()
	gw.AddEndpoint(models.EndpointState{ID: "ep-1", TemplateID: "tpl-a", GPUType: "A100", GPUCount: 1, ContainerImage: "img:v1"},
		models.EndpointMetrics{ErrorRate: 1, AvgResponseTime: 100})
	gw.AddEndpoint(models.EndpointState{ID: "ep-2", GPUType: "L4"}, models.EndpointMetrics{})

	bus := events.NewBus()
	monitor := monitoring.NewMonitor(gw, bus, monitoring.DefaultOptions())
	snapshots := snapshot.NewStore(gw, bus, snapshot.Options{})
	planner := rollback.NewPlanner(snapshots)
	executor := rollback.NewExecutor(gw, planner, bus, rollback.ExecutorOptions{ReadyAttempts: 2, ReadyInterval: time.Millisecond})

	server := NewServer(&config.Config{Environment: "test"}, Dependencies{
		Monitor:   monitor,
		Snapshots: snapshots,
		Planner:   planner,
		Preflight: rollback.NewPreflightChecker(gw, planner, models.AlertThresholds{}),
		Executor:  executor,
		Bus:       bus,
		Services:  services,
	})
	return &testEnv{server: server, gw: gw, bus: bus, monitor: monitor, executor: executor}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthReportsServices(t *testing.T) {
	env := newTestEnv(t, map[string]HealthChecker{
		"redis": HealthCheckFunc(func(context.Context) error { return nil }),
		"minio": HealthCheckFunc(func(context.Context) error { return errors.New("down") }),
	})

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connected", body["redis"])
	assert.Equal(t, "disconnected", body["minio"])
}

func TestEndpointLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/endpoints", gin.H{"endpointId": "ep-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decode[models.DeploymentMonitoring](t, w)
	assert.Equal(t, models.HealthHealthy, added.HealthStatus)

	w = env.do(t, http.MethodGet, "/api/endpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.DeploymentMonitoring](t, w), 1)

	w = env.do(t, http.MethodGet, "/api/endpoints/ep-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/endpoints/ep-9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/endpoints/bad%20id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/endpoints", gin.H{"endpointId": "ep-unknown"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = env.do(t, http.MethodDelete, "/api/endpoints/ep-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodDelete, "/api/endpoints/ep-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiscoverAndStats(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/endpoints/discover", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode[map[string]interface{}](t, w)["added"])

	w = env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.MonitoringStats](t, w)
	assert.Equal(t, 2, stats.TotalEndpoints)
	assert.Equal(t, 2, stats.Healthy)
}

func TestResolveAlert(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.monitor.AddEndpoint(context.Background(), "ep-1")
	require.NoError(t, err)
	env.gw.SetMetrics("ep-1", models.EndpointMetrics{ErrorRate: 8})
	env.monitor.Tick(context.Background())

	w := env.do(t, http.MethodGet, "/api/endpoints/ep-1/alerts?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decode[[]models.Alert](t, w)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertErrorRate, alerts[0].Type)

	w = env.do(t, http.MethodPost, "/api/alerts/"+alerts[0].ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Alert](t, w).Resolved)

	w = env.do(t, http.MethodPost, "/api/alerts/"+alerts[0].ID+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/alerts/unknown/resolve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Alert](t, w))
}

func TestAlertTypeFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.monitor.AddEndpoint(context.Background(), "ep-1")
	require.NoError(t, err)
	env.gw.SetMetrics("ep-1", models.EndpointMetrics{ErrorRate: 8})
	env.monitor.Tick(context.Background())

	w := env.do(t, http.MethodGet, "/api/alerts?type=error_rate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Alert](t, w), 1)

	w = env.do(t, http.MethodGet, "/api/endpoints/ep-1/alerts?type=memory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Alert](t, w))

	w = env.do(t, http.MethodGet, "/api/alerts?type=disk", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "endpoint_down")
}

func TestSnapshotPlanAndExecute(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/deployments/ep-1/snapshots", gin.H{"createdBy": "alice", "description": "known good"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	good := decode[models.DeploymentSnapshot](t, w)
	assert.Equal(t, "alice", good.Metadata.CreatedBy)

	gpu := "H100"
	require.NoError(t, env.gw.UpdateEndpoint(context.Background(), "ep-1", models.EndpointUpdate{GPUType: &gpu}))
	w = env.do(t, http.MethodPost, "/api/deployments/ep-1/snapshots", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	current := decode[models.DeploymentSnapshot](t, w)

	w = env.do(t, http.MethodGet, "/api/deployments/ep-1/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.DeploymentSnapshot](t, w), 2)

	w = env.do(t, http.MethodPost, "/api/rollback/plans", gin.H{"sourceSnapshotId": current.ID, "targetSnapshotId": good.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	plan := decode[models.RollbackPlan](t, w)
	assert.Equal(t, models.RiskMedium, plan.RiskLevel)

	w = env.do(t, http.MethodPost, "/api/rollback/plans/"+plan.ID+"/preflight", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.PreCheckResult](t, w), 4)

	w = env.do(t, http.MethodPost, "/api/rollback/plans/"+plan.ID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[models.RollbackExecution](t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := env.executor.Wait(ctx, started.ID)
	require.NoError(t, err)

	w = env.do(t, http.MethodGet, "/api/rollback/executions/"+started.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	final := decode[models.RollbackExecution](t, w)
	assert.Equal(t, models.ExecutionCompleted, final.Status)

	ep, _ := env.gw.Endpoint("ep-1")
	assert.Equal(t, "A100", ep.GPUType)

	w = env.do(t, http.MethodPost, "/api/rollback/executions/"+started.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/deployments/ep-1/executions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.RollbackExecution](t, w), 1)
}

func TestPlanValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/deployments/ep-1/snapshots", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	a := decode[models.DeploymentSnapshot](t, w)
	w = env.do(t, http.MethodPost, "/api/deployments/ep-2/snapshots", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	b := decode[models.DeploymentSnapshot](t, w)

	w = env.do(t, http.MethodPost, "/api/rollback/plans", gin.H{"sourceSnapshotId": a.ID, "targetSnapshotId": b.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/rollback/plans", gin.H{"sourceSnapshotId": a.ID, "targetSnapshotId": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/rollback/plans", gin.H{"sourceSnapshotId": a.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/rollback/plans/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/rollback/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebSocketStreamsBusEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?resourceId=ep-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env.bus.Publish(events.Event{Type: events.MetricsUpdated, ResourceID: "ep-2"})
	env.bus.Publish(events.Event{Type: events.HealthChanged, ResourceID: "ep-1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.HealthChanged, got.Type)
	assert.Equal(t, "ep-1", got.ResourceID)
}
