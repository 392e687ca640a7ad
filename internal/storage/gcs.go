package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// GCS は gs://<bucket>/<prefix>/<sessionID>/output.txt に成果物を保存します。
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCS は GCS クライアントを作成します。Close で解放してください。
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Save は成果物をアップロードし、gs:// 形式の保存先を返します。
func (g *GCS) Save(ctx context.Context, sessionID, text string) (string, error) {
	object, err := g.objectName(sessionID)
	if err != nil {
		return "", err
	}
	w := g.bucket.Object(object).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"

	if _, err := io.Copy(w, strings.NewReader(text)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", g.name, object), nil
}

// Resolve は成果物が存在すれば gs:// 形式の保存先を返します。
func (g *GCS) Resolve(ctx context.Context, sessionID string) (string, error) {
	object, err := g.objectName(sessionID)
	if err != nil {
		return "", err
	}
	if _, err := g.bucket.Object(object).Attrs(ctx); err != nil {
		return "", mapGCSError(err, sessionID)
	}
	return fmt.Sprintf("gs://%s/%s", g.name, object), nil
}

// Open は成果物のリーダーを返します。
func (g *GCS) Open(ctx context.Context, sessionID string) (io.ReadCloser, int64, error) {
	object, err := g.objectName(sessionID)
	if err != nil {
		return nil, 0, err
	}
	r, err := g.bucket.Object(object).NewReader(ctx)
	if err != nil {
		return nil, 0, mapGCSError(err, sessionID)
	}
	return r, r.Attrs.Size, nil
}

// Close はクライアントを閉じます。
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) objectName(sessionID string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	return objectPath(g.prefix, sessionID), nil
}

func objectPath(prefix, sessionID string) string {
	if prefix == "" {
		return path.Join(sessionID, ArtifactName)
	}
	return path.Join(prefix, sessionID, ArtifactName)
}

func mapGCSError(err error, sessionID string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, sessionID)
	}
	return err
}
