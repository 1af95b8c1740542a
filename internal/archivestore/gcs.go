package archivestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// uploadTimeout bounds a single archive upload.
const uploadTimeout = 2 * time.Minute

// GCSStore keeps archives as objects under prefix in a bucket.
// It assumes Application Default Credentials are configured.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a storage client for bucket.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Put uploads data and returns its gs:// URI.
func (s *GCSStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	objectName := s.objectName(name)
	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/zip"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Put: writing %s: %w", objectName, err)
	}
	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Put: finalize upload: %w", err)
	}
	return "gs://" + s.bucket + "/" + objectName, nil
}

// Get downloads the object at a gs:// URI.
func (s *GCSStore) Get(ctx context.Context, location string) ([]byte, error) {
	bucket, objectPath, err := ParseGCSURI(location)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	rc, err := s.client.Bucket(bucket).Object(objectPath).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("Get: %s: %w", location, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: reading object %s/%s: %w", bucket, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Get: reading bytes: %w", err)
	}
	return data, nil
}

func (s *GCSStore) List(ctx context.Context, namePrefix string) ([]Object, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.objectName(namePrefix)})

	var out []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List: iterating: %w", err)
		}
		out = append(out, Object{
			Name:     path.Base(attrs.Name),
			Location: "gs://" + attrs.Bucket + "/" + attrs.Name,
			Size:     attrs.Size,
			Updated:  attrs.Updated,
		})
	}
	sortNewestFirst(out)
	return out, nil
}

// ParseGCSURI splits gs://bucket/path into its bucket and object path.
func ParseGCSURI(uri string) (bucket, objectPath string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

func sortNewestFirst(objs []Object) {
	sort.Slice(objs, func(i, j int) bool {
		if !objs[i].Updated.Equal(objs[j].Updated) {
			return objs[i].Updated.After(objs[j].Updated)
		}
		return objs[i].Name > objs[j].Name
	})
}
