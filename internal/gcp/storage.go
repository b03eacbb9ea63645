package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// kmsKeyHeader binds a signed upload to a customer-managed encryption key.
const kmsKeyHeader = "x-goog-encryption-kms-key-name"

// ObjectStore wraps a Storage client with the handful of operations the
// receipt functions need. Every write and signed upload is encrypted with
// kmsKeyName when it is set.
type ObjectStore struct {
	client     *storage.Client
	kmsKeyName string

	googleAccessID string
	privateKey     []byte
}

// ObjectStoreOption configures an ObjectStore.
type ObjectStoreOption func(*ObjectStore)

// WithSigningKey signs URLs with an explicit service-account key instead of
// the credentials detected from the environment.
func WithSigningKey(googleAccessID string, privateKeyPEM []byte) ObjectStoreOption {
	return func(s *ObjectStore) {
		s.googleAccessID = googleAccessID
		s.privateKey = privateKeyPEM
	}
}

// NewObjectStore creates an ObjectStore around an existing client.
func NewObjectStore(client *storage.Client, kmsKeyName string, opts ...ObjectStoreOption) *ObjectStore {
	s := &ObjectStore{client: client, kmsKeyName: kmsKeyName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPage returns one page of object names under prefix and the token for
// the next page. An empty token means the listing is complete.
func (s *ObjectStore) ListPage(ctx context.Context, bucket, prefix, pageToken string, pageSize int) ([]string, string, error) {
	query := &storage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, "", fmt.Errorf("failed to set attribute selection: %w", err)
	}
	it := s.client.Bucket(bucket).Objects(ctx, query)

	var attrs []*storage.ObjectAttrs
	next, err := iterator.NewPager(it, pageSize, pageToken).NextPage(&attrs)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
	}

	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		names = append(names, a.Name)
	}
	return names, next, nil
}

// Exists probes object metadata without reading the body.
func (s *ObjectStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// WriteObject writes body to bucket/key, replacing any existing object.
// Rewriting the same content is safe, so redelivered events may call it again.
func (s *ObjectStore) WriteObject(ctx context.Context, bucket, key, contentType string, body []byte) error {
	writer := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if s.kmsKeyName != "" {
		writer.KMSKeyName = s.kmsKeyName
	}

	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		_ = writer.Close()
		slog.Error("Failed to copy content to GCS object", "bucket", bucket, "object", key, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusForbidden {
			slog.Error("Permission denied writing GCS object; check the KMS key grant", "bucket", bucket, "object", key, "kmsKey", s.kmsKeyName)
		}
		return fmt.Errorf("failed to finalize GCS write for %s: %w", key, err)
	}
	return nil
}

// SignedPutURL returns a V4 signed URL that allows a PUT of key
// with the given content type, valid for ttl.
func (s *ObjectStore) SignedPutURL(bucket, key, contentType string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().Add(ttl),
	}
	if s.kmsKeyName != "" {
		opts.Headers = []string{kmsKeyHeader + ":" + s.kmsKeyName}
	}
	if s.googleAccessID != "" {
		opts.GoogleAccessID = s.googleAccessID
		opts.PrivateKey = s.privateKey
	}

	url, err := s.client.Bucket(bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign upload URL for gs://%s/%s: %w", bucket, key, err)
	}
	return url, nil
}
