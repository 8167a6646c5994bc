package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"inference-ops-service/pkg/config"
	"inference-ops-service/pkg/models"

	"github.com/go-redis/redis/v8"
)

const monitoringStateTTL = 10 * time.Minute

type RedisClient struct {
	*redis.Client
}

func NewRedisConnection(cfg *config.Config) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Verify connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client}, nil
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx).Err()
}

func MetricsKey(endpointID string) string {
	return fmt.Sprintf("metrics:%s:latest", endpointID)
}

func MonitoringKey(endpointID string) string {
	return fmt.Sprintf("monitoring:%s", endpointID)
}

// StoreMonitoring caches the latest metrics as a hash for quick reads and the
// full record, without history, as JSON.
func (r *RedisClient) StoreMonitoring(ctx context.Context, state *models.DeploymentMonitoring) error {
	m := state.Metrics
	pipe := r.TxPipeline()
	pipe.HSet(ctx, MetricsKey(state.EndpointID),
		"avg_response_time", m.AvgResponseTime,
		"error_rate", m.ErrorRate,
		"gpu_utilization", m.GPUUtilization,
		"memory_utilization", m.MemoryUtilization,
		"requests_per_minute", m.RequestsPerMinute,
		"health_status", string(state.HealthStatus),
		"timestamp", state.LastUpdated.Unix(),
	)
	pipe.Expire(ctx, MetricsKey(state.EndpointID), monitoringStateTTL)

	compact := *state
	compact.History = nil
	body, err := json.Marshal(compact)
	if err != nil {
		return fmt.Errorf("failed to marshal monitoring state: %w", err)
	}
	pipe.Set(ctx, MonitoringKey(state.EndpointID), body, monitoringStateTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache monitoring state: %w", err)
	}
	return nil
}

func (r *RedisClient) DeleteMonitoring(ctx context.Context, endpointID string) error {
	return r.Del(ctx, MetricsKey(endpointID), MonitoringKey(endpointID)).Err()
}

// LoadMonitoring returns the cached record of an endpoint, or nil when absent.
func (r *RedisClient) LoadMonitoring(ctx context.Context, endpointID string) (*models.DeploymentMonitoring, error) {
	body, err := r.Get(ctx, MonitoringKey(endpointID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state models.DeploymentMonitoring
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to decode monitoring state: %w", err)
	}
	return &state, nil
}

// CachedEndpointIDs lists the endpoints that had cached state, so monitoring
// can resume after a restart.
func (r *RedisClient) CachedEndpointIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.Scan(ctx, 0, "monitoring:*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len("monitoring:"):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
