package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jaki95/tunecache/internal/pathguard"
)

// GCSStore implements ArchiveStore for Google Cloud Storage
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a new GCSStore. With an empty credentials file the
// application default credentials are used.
func NewGCSStore(ctx context.Context, bucketName, objectPrefix, credentialsFile string) (*GCSStore, error) {
	var client *storage.Client
	var err error

	if credentialsFile != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: bucketName,
		prefix: strings.Trim(objectPrefix, "/"),
	}, nil
}

func (s *GCSStore) object(name string) (*storage.ObjectHandle, error) {
	if err := pathguard.ValidateSegment(name); err != nil {
		return nil, fmt.Errorf("archive name %q: %w", name, err)
	}
	objectName := name
	if s.prefix != "" {
		objectName = s.prefix + "/" + name
	}
	return s.client.Bucket(s.bucket).Object(objectName), nil
}

func (s *GCSStore) Exists(ctx context.Context, name string) (bool, error) {
	obj, err := s.object(name)
	if err != nil {
		return false, err
	}
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return true, nil
}

// Create opens a resumable upload that only succeeds if the object does not
// exist yet. Nothing is visible in the bucket until Commit.
func (s *GCSStore) Create(ctx context.Context, name string) (PendingObject, error) {
	obj, err := s.object(name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/zip"
	return &gcsPending{w: w, cancel: cancel}, nil
}

func (s *GCSStore) Open(ctx context.Context, name string) (*Object, error) {
	obj, err := s.object(name)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return &Object{ReadCloser: r, Size: r.Attrs.Size}, nil
}

// Close closes the GCS client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

type gcsPending struct {
	w      *storage.Writer
	cancel context.CancelFunc
	done   bool
}

func (p *gcsPending) Write(b []byte) (int, error) {
	return p.w.Write(b)
}

func (p *gcsPending) Commit() error {
	p.done = true
	defer p.cancel()
	if err := p.w.Close(); err != nil {
		// A concurrent writer already produced the same bundle.
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// Abort cancels the upload context, which discards the object.
func (p *gcsPending) Abort() error {
	if p.done {
		return nil
	}
	p.done = true
	p.cancel()
	_ = p.w.Close()
	return nil
}
