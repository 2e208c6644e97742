package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/seemantic/seemantic/pkg/config"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// MinioSource exposes documents stored in an object-store bucket under
// a fixed prefix. Object ETags serve as source versions.
type MinioSource struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewMinioSourceFromConfig connects to the object store and ensures the
// bucket exists.
func NewMinioSourceFromConfig(ctx context.Context, cfg *config.MinioConfig, logger *slog.Logger) (*MinioSource, error) {
	useTLS := false
	if cfg.UseTLS != nil {
		useTLS = *cfg.UseTLS
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioSource{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// AllRefs lists all objects under the prefix with their ETags.
func (s *MinioSource) AllRefs(ctx context.Context) ([]Ref, error) {
	var refs []Ref
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		refs = append(refs, Ref{
			URI:           s.stripPrefix(object.Key),
			SourceVersion: cleanETag(object.ETag),
		})
	}
	return refs, nil
}

// GetObject reads the current content and version of a document.
func (s *MinioSource) GetObject(ctx context.Context, uri string) (*Object, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.key(uri), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", uri, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", uri, err)
	}

	stat, err := object.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", uri, err)
	}

	return &Object{
		Data:          data,
		SourceVersion: cleanETag(stat.ETag),
	}, nil
}

// PutObject uploads content at the given URI.
func (s *MinioSource) PutObject(ctx context.Context, uri string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(uri), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", uri, err)
	}
	return nil
}

// DeleteObject removes the object at the given URI.
func (s *MinioSource) DeleteObject(ctx context.Context, uri string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(uri), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", uri, err)
	}
	return nil
}

// Subscribe streams bucket notifications as source events. The
// underlying listener is re-opened with exponential back-off when it
// fails, so the stream survives object-store restarts.
func (s *MinioSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	events := make(chan Event)

	go func() {
		defer close(events)
		delay := minReconnectDelay
		for {
			if err := s.listen(ctx, events); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("bucket notification stream failed, reconnecting",
					"bucket", s.bucket, "delay", delay, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = nextReconnectDelay(delay)
		}
	}()

	return events, nil
}

// nextReconnectDelay doubles the delay up to maxReconnectDelay.
func nextReconnectDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}

func (s *MinioSource) listen(ctx context.Context, events chan<- Event) error {
	notifications := s.client.ListenBucketNotification(ctx, s.bucket, s.prefix, "", []string{
		"s3:ObjectCreated:*",
		"s3:ObjectRemoved:*",
	})

	for info := range notifications {
		if info.Err != nil {
			return info.Err
		}
		for _, record := range info.Records {
			key, err := url.QueryUnescape(record.S3.Object.Key)
			if err != nil {
				key = record.S3.Object.Key
			}
			uri := s.stripPrefix(key)

			if strings.HasPrefix(record.EventName, "s3:ObjectCreated:") {
				events <- Event{
					Type: EventUpsert,
					Ref: Ref{
						URI:           uri,
						SourceVersion: cleanETag(record.S3.Object.ETag),
					},
				}
			} else if strings.HasPrefix(record.EventName, "s3:ObjectRemoved:") {
				events <- Event{
					Type: EventDelete,
					Ref:  Ref{URI: uri},
				}
			}
		}
	}

	return ctx.Err()
}

func (s *MinioSource) key(uri string) string {
	return s.prefix + uri
}

func (s *MinioSource) stripPrefix(key string) string {
	return strings.TrimPrefix(key, s.prefix)
}

// cleanETag strips the quotes object stores wrap around ETags.
func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return false
}

var _ Source = (*MinioSource)(nil)
