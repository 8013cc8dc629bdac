// Package objstore resolves s3://bucket/key locators to raw bytes from
// an S3-compatible object store.
package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/trueclaim/claims-engine/engine/domain"
)

// imageExtensions are the object suffixes treated as vehicle images
// when listing a claim folder.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// Store reads objects from an S3-compatible store.
type Store struct {
	client *minio.Client
	log    *slog.Logger
}

// Config holds the object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// New creates a Store connected to the configured endpoint.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: connect %s: %w", cfg.Endpoint, err)
	}
	return &Store{client: client, log: log}, nil
}

// ParseLocator splits an s3://bucket/key locator.
func ParseLocator(locator string) (bucket, key string, err error) {
	if err := domain.ValidateLocator(locator); err != nil {
		return "", "", err
	}
	rest := strings.TrimPrefix(locator, "s3://")
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, nil
}

// Fetch downloads the object at locator and returns its bytes and
// content type. The content type comes from object metadata, falling
// back to the locator's extension.
func (s *Store) Fetch(ctx context.Context, locator string) ([]byte, string, error) {
	bucket, key, err := ParseLocator(locator)
	if err != nil {
		return nil, "", err
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", classify(locator, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", classify(locator, err)
	}

	contentType := ""
	if stat, err := obj.Stat(); err == nil {
		contentType = stat.ContentType
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ContentTypeFor(key)
	}
	return data, contentType, nil
}

// FetchJSON downloads and decodes a JSON document.
func (s *Store) FetchJSON(ctx context.Context, locator string, v any) error {
	data, _, err := s.Fetch(ctx, locator)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("objstore: decode %s: %w", locator, err)
	}
	return nil
}

// ListImages lists image objects under a folder locator, returning full
// s3:// locators in listing order.
func (s *Store) ListImages(ctx context.Context, folderLocator string) ([]string, error) {
	bucket, prefix, err := ParseLocator(folderLocator)
	if err != nil {
		return nil, err
	}

	var images []string
	for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, classify(folderLocator, info.Err)
		}
		if imageExtensions[strings.ToLower(path.Ext(info.Key))] {
			images = append(images, "s3://"+bucket+"/"+info.Key)
		}
	}
	return images, nil
}

// ContentTypeFor infers a content type from the key's extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// classify maps store and transport failures onto the domain taxonomy.
func classify(locator string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("objstore: %s: %w", locator, domain.ErrNotFound)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("objstore: %s: %w", locator, domain.ErrAccess)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("objstore: %s: %w: %v", locator, domain.ErrTransient, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("objstore: %s: %w: %v", locator, domain.ErrTransient, err)
	}
	return fmt.Errorf("objstore: %s: %v", locator, err)
}
