package docstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/phrazzld/examgen/internal/config"
)

// MinioSource reads s3:// references from an S3 compatible object store.
type MinioSource struct {
	client *minio.Client
}

var _ Source = (*MinioSource)(nil)

// NewMinioSource creates a client for the configured endpoint.
func NewMinioSource(cfg config.StorageConfig) (*MinioSource, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinioSource{client: client}, nil
}

// Open implements Source.
func (m *MinioSource) Open(ctx context.Context, ref Reference) (io.ReadCloser, string, error) {
	obj, err := m.client.GetObject(ctx, ref.Bucket, ref.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", mapMinioError(ref, err)
	}

	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, "", mapMinioError(ref, err)
	}
	return obj, info.ContentType, nil
}

func mapMinioError(ref Reference, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, ref.Raw)
	}
	return fmt.Errorf("get object %s: %w", ref.Raw, err)
}
