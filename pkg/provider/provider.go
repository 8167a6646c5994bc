// Package provider defines the gateway to the serverless GPU provider that hosts
// inference endpoints.
package provider

import (
	"context"

	"inference-ops-service/pkg/models"
)

// Gateway is implemented by the provider API client. Implementations own their
// retry and backoff policy; callers treat every error as final for that call.
type Gateway interface {
	GetEndpoint(ctx context.Context, id string) (*models.EndpointState, error)
	GetEndpointMetrics(ctx context.Context, id string) (*models.EndpointMetrics, error)
	GetEndpointHealth(ctx context.Context, id string) (*models.EndpointHealth, error)
	UpdateEndpoint(ctx context.Context, id string, update models.EndpointUpdate) error
	RestartEndpoint(ctx context.Context, id string) error
	ListEndpoints(ctx context.Context) ([]models.EndpointState, error)
}
