// Package s3 implements blob.Store on S3 compatible object storage.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/poiesic/kbingest/blob"
)

type Store struct {
	client *minio.Client
	config Config
}

var _ blob.Store = (*Store)(nil)

// New connects to the bucket described by config. Static keys are used when
// set, otherwise credentials come from the AWS environment variables.
func New(ctx context.Context, config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	creds := credentials.NewEnvAWS()
	if config.AccessKey != "" {
		creds = credentials.NewStaticV4(config.AccessKey, config.SecretKey, "")
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  creds,
		Region: config.region(),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("find bucket: %w", err)
	}
	if !exists {
		if !config.CreateBucket {
			return nil, fmt.Errorf("find bucket: bucket '%s' does not exist", config.Bucket)
		}
		err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.region()})
		if err != nil {
			return nil, fmt.Errorf("make bucket '%s': %w", config.Bucket, err)
		}
	}
	return &Store{client: client, config: config}, nil
}

func (s *Store) objectName(key string) string {
	return path.Join(s.config.Prefix, key)
}

func (s *Store) Upload(ctx context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.config.Bucket, s.objectName(key), reader, reader.Size(),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put object '%s': %w", key, err)
	}
	return nil
}

func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.config.Bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object '%s': %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("read object '%s': %w", key, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.config.Bucket, s.objectName(key), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove object '%s': %w", key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.config.Bucket, s.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object '%s': %w", key, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}
