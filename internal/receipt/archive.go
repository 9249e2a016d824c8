package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSArchiver keeps raw receipt images in a Cloud Storage bucket.
// Credentials come from Application Default Credentials.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

func NewGCSArchiver(ctx context.Context, bucket string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, now: time.Now}, nil
}

func (a *GCSArchiver) Archive(ctx context.Context, image []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	name := objectName(a.now(), uuid.NewString(), mimeType)
	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = mimeType

	if _, err := io.Copy(w, bytes.NewReader(image)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy receipt to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return "gs://" + a.bucket + "/" + name, nil
}

func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

// objectName lays receipts out as receipts/YYYY/MM/<id>.<ext>.
func objectName(t time.Time, id, mimeType string) string {
	ext := strings.TrimPrefix(strings.ToLower(mimeType), "image/")
	if i := strings.IndexAny(ext, ";+ "); i >= 0 {
		ext = ext[:i]
	}
	switch ext {
	case "jpeg", "pjpeg":
		ext = "jpg"
	case "":
		ext = "bin"
	}
	return path.Join("receipts", t.UTC().Format("2006/01"), id+"."+ext)
}
