package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"inference-ops-service/pkg/config"
	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const CompressionLevel = gzip.BestSpeed

type MinioClient struct {
	*minio.Client
}

func NewMinioClient(cfg *config.Config) (*MinioClient, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	// Verify connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.ListBuckets(ctx); err != nil {
		return nil, fmt.Errorf("failed to list MinIO buckets: %w", err)
	}

	if err := client.MakeBucket(ctx, cfg.SnapshotBucket, minio.MakeBucketOptions{}); err != nil {
		// Bucket might already exist, which is fine
		exists, errBucketExists := client.BucketExists(ctx, cfg.SnapshotBucket)
		if errBucketExists != nil || !exists {
			return nil, fmt.Errorf("failed to create snapshot bucket: %w", err)
		}
	}

	return &MinioClient{client}, nil
}

func (m *MinioClient) HealthCheck(ctx context.Context) error {
	_, err := m.ListBuckets(ctx)
	return err
}

// SnapshotArchive keeps deployment snapshots as gzip JSON objects.
type SnapshotArchive struct {
	client *minio.Client
	bucket string
}

func NewSnapshotArchive(client *minio.Client, bucket string) *SnapshotArchive {
	return &SnapshotArchive{client: client, bucket: bucket}
}

// SnapshotObjectName lays snapshots out as snapshots/{deployment}/{unix-nanos}-{id}.json.gz
// so a prefix listing returns them in capture order.
func SnapshotObjectName(s *models.DeploymentSnapshot) string {
	return fmt.Sprintf("snapshots/%s/%020d-%s.json.gz", s.DeploymentID, s.Timestamp.UnixNano(), s.ID)
}

func (a *SnapshotArchive) StoreSnapshot(ctx context.Context, snapshot *models.DeploymentSnapshot) error {
	body, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, a.bucket, SnapshotObjectName(snapshot), bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType:     "application/json",
			ContentEncoding: "gzip",
			UserMetadata: map[string]string{
				"deployment-id": snapshot.DeploymentID,
				"created-by":    snapshot.Metadata.CreatedBy,
			},
		})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot to MinIO: %w", err)
	}
	return nil
}

// LoadSnapshots returns every archived snapshot, ordered by capture time.
// Unreadable objects are skipped.
func (a *SnapshotArchive) LoadSnapshots(ctx context.Context) ([]models.DeploymentSnapshot, error) {
	var snapshots []models.DeploymentSnapshot

	for object := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    "snapshots/",
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", object.Err)
		}
		if !strings.HasSuffix(object.Key, ".json.gz") {
			continue
		}

		snapshot, err := a.getSnapshot(ctx, object.Key)
		if err != nil {
			logger.Warn("Skipping unreadable snapshot object",
				logger.String("bucket", a.bucket),
				logger.String("object", object.Key),
				logger.Err(err))
			continue
		}
		snapshots = append(snapshots, *snapshot)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

func (a *SnapshotArchive) getSnapshot(ctx context.Context, objectName string) (*models.DeploymentSnapshot, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	gzipReader, err := gzip.NewReader(obj)
	if err != nil {
		return nil, err
	}
	defer gzipReader.Close()

	var snapshot models.DeploymentSnapshot
	if err := json.NewDecoder(gzipReader).Decode(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func encodeSnapshot(snapshot *models.DeploymentSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter, err := gzip.NewWriterLevel(&buf, CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if err := json.NewEncoder(gzipWriter).Encode(snapshot); err != nil {
		gzipWriter.Close()
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := gzipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
