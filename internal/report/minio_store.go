package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lechuhuuha/memcload/internal/domain"
)

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	WriteObject(ctx context.Context, bucket, object string, payload []byte) error
}

type minioObjectStoreClient struct {
	client *minio.Client
}

func newMinIOObjectStoreClient(endpoint, accessKey, secretKey string, useSSL bool) (objectStore, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &minioObjectStoreClient{client: minioClient}, nil
}

func (c *minioObjectStoreClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return c.client.BucketExists(ctx, bucket)
}

func (c *minioObjectStoreClient) WriteObject(ctx context.Context, bucket, object string, payload []byte) error {
	_, err := c.client.PutObject(
		ctx,
		bucket,
		object,
		bytes.NewReader(payload),
		int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	return err
}

// MinIOOptions configures a MinIO-backed report store.
type MinIOOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string

	client objectStore
}

// MinIOStore uploads reports to MinIO-compatible object storage.
type MinIOStore struct {
	client objectStore
	bucket string
	prefix string
}

func NewMinIOStore(opts MinIOOptions) (*MinIOStore, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	prefix := strings.Trim(strings.TrimSpace(opts.Prefix), "/")
	if prefix == "" {
		prefix = "reports"
	}

	storeClient := opts.client
	if storeClient == nil {
		endpoint := strings.TrimSpace(opts.Endpoint)
		accessKey := strings.TrimSpace(opts.AccessKey)
		secretKey := strings.TrimSpace(opts.SecretKey)
		if endpoint == "" {
			return nil, errors.New("minio endpoint is required")
		}
		if accessKey == "" {
			return nil, errors.New("minio access key is required")
		}
		if secretKey == "" {
			return nil, errors.New("minio secret key is required")
		}
		client, err := newMinIOObjectStoreClient(endpoint, accessKey, secretKey, opts.UseSSL)
		if err != nil {
			return nil, err
		}
		storeClient = client
	}

	return &MinIOStore{client: storeClient, bucket: bucket, prefix: prefix}, nil
}

// CheckReady validates that the configured bucket is reachable.
func (s *MinIOStore) CheckReady(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check minio bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("minio bucket %q does not exist", s.bucket)
	}
	return nil
}

func (s *MinIOStore) Save(ctx context.Context, rep domain.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	object := path.Join(s.prefix, objectName(rep))
	if err := s.client.WriteObject(ctx, s.bucket, object, data); err != nil {
		return fmt.Errorf("write object %q: %w", object, err)
	}
	return nil
}
