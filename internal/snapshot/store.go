// Package snapshot captures immutable deployment snapshots from live provider state.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"inference-ops-service/internal/monitoring"
	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"
	"inference-ops-service/pkg/provider"

	"github.com/google/uuid"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Archive persists snapshots outside the process.
type Archive interface {
	StoreSnapshot(ctx context.Context, snapshot *models.DeploymentSnapshot) error
	LoadSnapshots(ctx context.Context) ([]models.DeploymentSnapshot, error)
}

type Options struct {
	Thresholds models.AlertThresholds
	Archive    Archive
	Clock      func() time.Time
}

// Store keeps an append-only snapshot list per deployment.
type Store struct {
	gateway provider.Gateway
	events  events.Publisher
	opts    Options

	mu           sync.RWMutex
	byID         map[string]*models.DeploymentSnapshot
	byDeployment map[string][]*models.DeploymentSnapshot
}

func NewStore(gateway provider.Gateway, publisher events.Publisher, opts Options) *Store {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Thresholds == (models.AlertThresholds{}) {
		opts.Thresholds = models.DefaultThresholds()
	}
	return &Store{
		gateway:      gateway,
		events:       publisher,
		opts:         opts,
		byID:         make(map[string]*models.DeploymentSnapshot),
		byDeployment: make(map[string][]*models.DeploymentSnapshot),
	}
}

// CreateSnapshot reads the live configuration, metrics and health of a
// deployment and stores them as a new snapshot. On any error nothing is stored.
func (s *Store) CreateSnapshot(ctx context.Context, deploymentID string, metadata models.SnapshotMetadata) (*models.DeploymentSnapshot, error) {
	endpoint, err := s.gateway.GetEndpoint(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch endpoint %s: %w", deploymentID, err)
	}
	metrics, err := s.gateway.GetEndpointMetrics(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics for %s: %w", deploymentID, err)
	}
	health, err := s.gateway.GetEndpointHealth(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch health for %s: %w", deploymentID, err)
	}

	envHash, err := HashEnvVars(endpoint.EnvVars)
	if err != nil {
		return nil, err
	}

	snap := &models.DeploymentSnapshot{
		ID:           uuid.NewString(),
		DeploymentID: deploymentID,
		Timestamp:    s.opts.Clock(),
		Configuration: models.SnapshotConfiguration{
			TemplateID:     endpoint.TemplateID,
			GPUType:        endpoint.GPUType,
			GPUCount:       endpoint.GPUCount,
			ContainerImage: endpoint.ContainerImage,
			EnvVars:        models.CopyEnv(endpoint.EnvVars),
			Network:        endpoint.Network,
		},
		ContainerImageHash: HashImage(endpoint.ContainerImage),
		EnvVarsHash:        envHash,
		HealthStatus:       monitoring.EvaluateHealth(*metrics, s.opts.Thresholds),
		ProviderStatus:     health.Status,
		WorkersReady:       health.WorkersReady,
		Performance: models.PerformanceBaseline{
			AvgResponseTime:   metrics.AvgResponseTime,
			ErrorRate:         metrics.ErrorRate,
			GPUUtilization:    metrics.GPUUtilization,
			MemoryUtilization: metrics.MemoryUtilization,
			RequestsPerMinute: metrics.RequestsPerMinute,
		},
		Metadata: metadata,
	}
	if metadata.Tags != nil {
		snap.Metadata.Tags = append([]string(nil), metadata.Tags...)
	}

	if s.opts.Archive != nil {
		if err := s.opts.Archive.StoreSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("failed to archive snapshot: %w", err)
		}
	}

	s.mu.Lock()
	s.insert(snap)
	s.mu.Unlock()

	logger.Info("Snapshot created",
		logger.String("snapshot_id", snap.ID),
		logger.String("deployment_id", deploymentID),
		logger.String("health", string(snap.HealthStatus)))

	s.events.Publish(events.Event{Type: events.SnapshotCreated, ResourceID: deploymentID, Payload: *snap.Clone()})
	return snap.Clone(), nil
}

func (s *Store) GetSnapshot(id string) (*models.DeploymentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return snap.Clone(), nil
}

// GetSnapshots returns the snapshots of a deployment, oldest first.
func (s *Store) GetSnapshots(deploymentID string) []models.DeploymentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byDeployment[deploymentID]
	out := make([]models.DeploymentSnapshot, 0, len(list))
	for _, snap := range list {
		out = append(out, *snap.Clone())
	}
	return out
}

// Restore loads archived snapshots. Snapshots already in memory are kept.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.opts.Archive == nil {
		return 0, nil
	}
	archived, err := s.opts.Archive.LoadSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load archived snapshots: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for i := range archived {
		snap := archived[i]
		if _, ok := s.byID[snap.ID]; ok {
			continue
		}
		s.insert(&snap)
		restored++
	}
	for id := range s.byDeployment {
		list := s.byDeployment[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	}
	return restored, nil
}

func (s *Store) insert(snap *models.DeploymentSnapshot) {
	s.byID[snap.ID] = snap
	s.byDeployment[snap.DeploymentID] = append(s.byDeployment[snap.DeploymentID], snap)
}

func HashImage(image string) string {
	sum := sha256.Sum256([]byte(image))
	return hex.EncodeToString(sum[:])
}

// HashEnvVars hashes the JSON encoding of env, whose keys encoding/json
// always writes in sorted order. A nil map hashes like an empty one.
func HashEnvVars(env map[string]string) (string, error) {
	if env == nil {
		env = map[string]string{}
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode env vars: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
