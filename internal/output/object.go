package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/heatmap"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const datasetObject = "attack_data.json"

// objectAPI is the subset of the minio client the writer needs
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectWriter stores layers in an S3 compatible bucket so Navigator can load them by URL
type ObjectWriter struct {
	client objectAPI
	bucket string
	prefix string
	logger *logger.Logger
}

func NewObjectWriter(ctx context.Context, cfg config.ObjectStoreConfig, log *logger.Logger) (*ObjectWriter, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return newObjectWriter(ctx, client, cfg, log)
}

func newObjectWriter(ctx context.Context, client objectAPI, cfg config.ObjectStoreConfig, log *logger.Logger) (*ObjectWriter, error) {
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to reach object store: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	w := &ObjectWriter{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: log.WithComponent("object-store"),
	}
	w.logger.Infow("Object store ready", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket, "created", !exists)
	return w, nil
}

// ObjectKey is the key the layer for dim is stored under
func (w *ObjectWriter) ObjectKey(dim attack.Dimension) string {
	return path.Join(w.prefix, LayerFileName(dim))
}

func (w *ObjectWriter) WriteLayer(ctx context.Context, dim attack.Dimension, layer *heatmap.Layer) (string, error) {
	data, err := encodeLayer(layer)
	if err != nil {
		return "", err
	}
	return w.put(ctx, w.ObjectKey(dim), data)
}

func (w *ObjectWriter) WriteDataset(ctx context.Context, techniques []attack.Technique) (string, error) {
	data, err := EncodeDataset(techniques, time.Now())
	if err != nil {
		return "", err
	}
	return w.put(ctx, path.Join(w.prefix, datasetObject), data)
}

func (w *ObjectWriter) put(ctx context.Context, key string, data []byte) (string, error) {
	info, err := w.client.PutObject(ctx, w.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", w.bucket, key)
	w.logger.Infow("Uploaded object", "location", location, "bytes", info.Size, "etag", info.ETag)
	return location, nil
}
