package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures a MinioStore.
type MinioOptions struct {
	// Endpoint is host[:port] or a full http(s) URL.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RetryAttempts   int
	// CreateBucket makes the bucket on startup when it does not exist.
	CreateBucket bool
}

// MinioStore is a Store backed by any S3-compatible service through minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint described by opts.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("minio: bucket must not be empty")
	}

	host, secure, err := splitEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:       secure,
		Region:       opts.Region,
		BucketLookup: minio.BucketLookupPath,
		MaxRetries:   opts.RetryAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: create client: %w", err)
	}

	if opts.CreateBucket {
		if err := ensureMinioBucket(ctx, client, opts.Bucket, opts.Region); err != nil {
			return nil, err
		}
	}

	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

// splitEndpoint accepts both "host:port" and "scheme://host:port" forms.
func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("minio: endpoint must not be empty")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, true, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("minio: invalid endpoint %q: %w", endpoint, err)
	}
	return u.Host, u.Scheme == "https", nil
}

// ensureMinioBucket checks if a bucket exists, and creates it if it does not.
func ensureMinioBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("minio: check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("minio: create bucket %q: %w", bucket, err)
		}
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentEncoding string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:     "application/octet-stream",
		ContentEncoding: contentEncoding,
	})
	if err != nil {
		return fmt.Errorf("minio: put %q: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (*Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify("get", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat performs the request and surfaces NoSuchKey.
	info, err := obj.Stat()
	if err != nil {
		return nil, s.classify("get", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.classify("read", key, err)
	}

	return &Object{
		Data:            data,
		ContentEncoding: info.Metadata.Get("Content-Encoding"),
	}, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return nil
		}
		return fmt.Errorf("minio: delete %q: %w", key, err)
	}
	return nil
}

func (s *MinioStore) classify(op, key string, err error) error {
	if isMinioNotFound(err) {
		return ErrNotFound
	}
	return fmt.Errorf("minio: %s %q: %w", op, key, err)
}

func isMinioNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
