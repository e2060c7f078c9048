// Package media stores conversation photos in a Google Cloud Storage bucket.
package media

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

const publicHost = "https://storage.googleapis.com"

// GCSStore writes photos as publicly readable objects under conversations/<id>/.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSClient opens a storage client. An empty credentials file uses the ambient
// application default credentials.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	if credentialsFile != "" {
		return storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	}
	return storage.NewClient(ctx)
}

func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

func (s *GCSStore) UploadConversationPhoto(ctx context.Context, conversationID uuid.UUID, contentType string, data []byte) (string, error) {
	name := ObjectName(conversationID, uuid.New(), contentType)

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", errors.Wrapf(err, "failed to write %s", name)
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to finalize %s", name)
	}
	return PublicURL(s.bucket, name), nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// ObjectName is the bucket path of one photo.
func ObjectName(conversationID, photoID uuid.UUID, contentType string) string {
	return fmt.Sprintf("conversations/%s/%s%s", conversationID, photoID, extension(contentType))
}

func PublicURL(bucket, name string) string {
	return fmt.Sprintf("%s/%s/%s", publicHost, bucket, name)
}

func extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	}
	return ""
}
