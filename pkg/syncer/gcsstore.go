package syncer

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSObjectStore stages sync payloads in a Google Cloud Storage bucket.
type GCSObjectStore struct {
	client *storage.Client
	bucket string
}

// NewGCSObjectStore creates an object store backed by a GCS bucket.
func NewGCSObjectStore(ctx context.Context, bucket string) (*GCSObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSObjectStore{client: client, bucket: bucket}, nil
}

// Put writes one staged object.
func (s *GCSObjectStore) Put(ctx context.Context, key string, r io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("failed to stage object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish staging object %s: %w", key, err)
	}
	return nil
}

// Get reads one staged object.
func (s *GCSObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staged object %s: %w", key, err)
	}
	return r, nil
}

// Delete removes one staged object.
func (s *GCSObjectStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete staged object %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}
