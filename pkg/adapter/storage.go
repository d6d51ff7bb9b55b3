package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// ArtifactStore uploads artifacts produced by a workflow run. The core
// never requires it; the CLI wires it in when a bucket is configured.
type ArtifactStore interface {
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	Upload(ctx context.Context, prefix string, paths []string) error
}

type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a Cloud Storage backed artifact store
func NewStorage(ctx context.Context, bucketName string) (ArtifactStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	return obj.NewWriter(ctx), nil
}

// Upload copies each local file to <prefix>/<basename> in the bucket.
func (s *storageClient) Upload(ctx context.Context, prefix string, paths []string) error {
	for _, path := range paths {
		if err := s.uploadOne(ctx, prefix, path); err != nil {
			return goerr.Wrap(err, "failed to upload artifact", goerr.V("path", path))
		}
	}
	return nil
}

func (s *storageClient) uploadOne(ctx context.Context, prefix, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return goerr.Wrap(err, "failed to open artifact")
	}
	defer f.Close()

	w, err := s.Put(ctx, prefix+"/"+filepath.Base(path))
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to copy artifact")
	}
	return w.Close()
}
