package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"vidpipe/internal/fileutil"
)

// GCSOptions configures a Cloud Storage (Firebase Storage) bucket store.
type GCSOptions struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
	PublicBaseURL   string
}

// GCS stores objects in a Cloud Storage bucket obtained through the Firebase
// Admin SDK, the same project that hosts the Firestore record store.
type GCS struct {
	bucket  *gcs.BucketHandle
	name    string
	baseURL string
}

// NewFirebaseApp initialises a Firebase app shared by the GCS and Firestore backends.
func NewFirebaseApp(ctx context.Context, projectID, bucket, credentialsFile string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, StorageBucket: bucket}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: init app: %w", err)
	}
	return app, nil
}

// NewGCS returns a store for opts.Bucket using app's storage client.
func NewGCS(ctx context.Context, app *firebase.App, opts GCSOptions) (*GCS, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("blob: gcs bucket is required")
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: storage client: %w", err)
	}
	bucket, err := client.Bucket(opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: bucket %s: %w", opts.Bucket, err)
	}
	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + opts.Bucket
	}
	return &GCS{bucket: bucket, name: opts.Bucket, baseURL: baseURL}, nil
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(cleanKey(key)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("blob: attrs %s: %w", key, err)
}

func (g *GCS) Download(ctx context.Context, key, dst string) error {
	reader, err := g.bucket.Object(cleanKey(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("blob: open %s: %w", key, err)
	}
	defer reader.Close()
	if _, err := fileutil.WriteFrom(reader, dst); err != nil {
		return fmt.Errorf("blob: write %s: %w", dst, err)
	}
	return nil
}

func (g *GCS) Upload(ctx context.Context, src, key string, meta Metadata) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := g.bucket.Object(cleanKey(key)).NewWriter(ctx)
	writer.ContentType = meta.ContentType
	writer.CacheControl = meta.CacheControl
	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return fmt.Errorf("blob: upload %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("blob: finalize %s: %w", key, err)
	}
	return nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(cleanKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: cleanKey(prefix)})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("blob: list %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *GCS) PublicURL(key string) string {
	return joinURL(g.baseURL, key)
}
