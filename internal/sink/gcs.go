package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/storage/v1"

	"github.com/JonMunkholm/sheetchunk/internal/config"
)

const textContentType = "text/plain; charset=utf-8"

// GCS uploads parts as objects to a Cloud Storage bucket.
type GCS struct {
	svc    *storage.Service
	bucket string
	prefix string
}

// NewGCS connects to Cloud Storage. credentialsFile is a service account
// key; when empty, application default credentials are used. Extra client
// options (endpoint, HTTP client) are appended last.
func NewGCS(ctx context.Context, cfg config.StorageConfig, credentialsFile string, opts ...option.ClientOption) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs sink: bucket is required")
	}

	var clientOpts []option.ClientOption
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	clientOpts = append(clientOpts, option.WithScopes(storage.DevstorageReadWriteScope))
	clientOpts = append(clientOpts, opts...)

	svc, err := storage.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs sink: %w", err)
	}
	return &GCS{svc: svc, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads content as <prefix>/<id>.
func (g *GCS) Put(ctx context.Context, id string, content []byte) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	obj := &storage.Object{
		Name:        g.objectName(id),
		ContentType: textContentType,
	}
	_, err := g.svc.Objects.Insert(g.bucket, obj).
		Media(bytes.NewReader(content), googleapi.ContentType(textContentType)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("upload gs://%s/%s: %w", g.bucket, obj.Name, err)
	}
	return nil
}

// Target returns the bucket URL, including the prefix.
func (g *GCS) Target() string {
	return "gs://" + path.Join(g.bucket, g.prefix)
}

func (g *GCS) objectName(id string) string {
	if g.prefix == "" {
		return id
	}
	return path.Join(g.prefix, id)
}

// Close is a no-op; the storage client holds no resources of its own.
func (g *GCS) Close() error { return nil }
