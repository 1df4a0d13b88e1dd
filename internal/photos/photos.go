// Package photos stores inspection photos for pins in an S3-compatible
// bucket and hands out short-lived download links.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"smartpin/api/internal/canvas"
	"smartpin/api/internal/util"
)

const MaxPhotoBytes = 25 << 20

var (
	ErrUnsupportedContentType = errors.New("unsupported photo content type")
	ErrUnsupportedKind        = errors.New("unsupported photo kind")
	ErrTooLarge               = errors.New("photo exceeds size limit")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// objectClient is the subset of *minio.Client used here.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type Store struct {
	client objectClient
	bucket string
	now    func() time.Time
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newWithClient(client, bucket), nil
}

func newWithClient(client objectClient, bucket string) *Store {
	return &Store{client: client, bucket: bucket, now: time.Now}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload stores one photo for a pin and returns the attachment record to
// add to the pin's metadata.
func (s *Store) Upload(ctx context.Context, roofID, pinID string, kind canvas.AttachmentKind, body io.Reader, size int64, contentType string) (canvas.Attachment, error) {
	switch kind {
	case canvas.AttachmentOpening, canvas.AttachmentClosing, canvas.AttachmentEvidence:
	default:
		return canvas.Attachment{}, ErrUnsupportedKind
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	ext, ok := extensions[contentType]
	if !ok {
		return canvas.Attachment{}, ErrUnsupportedContentType
	}
	if size > MaxPhotoBytes {
		return canvas.Attachment{}, ErrTooLarge
	}

	id := util.NewID("att")
	key := path.Join("roofs", roofID, "pins", pinID, string(kind), id+ext)
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return canvas.Attachment{}, fmt.Errorf("upload photo: %w", err)
	}
	return canvas.Attachment{
		ID:          id,
		Kind:        kind,
		ObjectKey:   key,
		ContentType: contentType,
		Size:        info.Size,
		UploadedAt:  s.now().UTC(),
	}, nil
}

// URL returns a presigned download link valid for ttl.
func (s *Store) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	link, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign photo: %w", err)
	}
	return link.String(), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	return nil
}
