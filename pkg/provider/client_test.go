package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"inference-ops-service/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsAuthAndDecodes(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		seen = append(seen, r.Method+" "+r.URL.Path)

		switch r.URL.Path {
		case "/endpoints/ep-1":
			if r.Method == http.MethodPatch {
				var update models.EndpointUpdate
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&update))
				if assert.NotNil(t, update.GPUType) {
					assert.Equal(t, "H100", *update.GPUType)
				}
				assert.Nil(t, update.TemplateID)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			json.NewEncoder(w).Encode(models.EndpointState{ID: "ep-1", Status: models.EndpointRunning, GPUType: "A100"})
		case "/endpoints/ep-1/metrics":
			json.NewEncoder(w).Encode(models.EndpointMetrics{ErrorRate: 2.5})
		case "/endpoints/ep-1/health":
			json.NewEncoder(w).Encode(models.EndpointHealth{Status: models.EndpointRunning, WorkersReady: 2})
		case "/endpoints/ep-1/restart":
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "no such endpoint", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "secret")
	ctx := context.Background()

	ep, err := client.GetEndpoint(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, "A100", ep.GPUType)

	metrics, err := client.GetEndpointMetrics(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 2.5, metrics.ErrorRate)
	assert.False(t, metrics.Timestamp.IsZero())

	health, err := client.GetEndpointHealth(ctx, "ep-1")
	require.NoError(t, err)
	assert.True(t, health.Ready())

	gpu := "H100"
	require.NoError(t, client.UpdateEndpoint(ctx, "ep-1", models.EndpointUpdate{GPUType: &gpu}))
	require.NoError(t, client.RestartEndpoint(ctx, "ep-1"))

	_, err = client.GetEndpoint(ctx, "ep-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	assert.Equal(t, []string{
		"GET /endpoints/ep-1",
		"GET /endpoints/ep-1/metrics",
		"GET /endpoints/ep-1/health",
		"PATCH /endpoints/ep-1",
		"POST /endpoints/ep-1/restart",
		"GET /endpoints/ep-2",
	}, seen)
}
