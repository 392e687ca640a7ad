// Package storage はセッションごとの生成テキスト（成果物）の保存先を提供します。
//
// 成果物は1セッションにつき output.txt の1つだけです。
// ローカルファイルシステム（開発環境用）と GCS（本番環境用）の実装があります。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactName はセッションディレクトリ内の成果物ファイル名です。
const ArtifactName = "output.txt"

// ErrArtifactNotFound は成果物が存在しない場合のエラーです。
var ErrArtifactNotFound = errors.New("artifact not found")

// Local は <root>/<sessionID>/output.txt に成果物を保存します。
type Local struct {
	root string
}

// NewLocal は Local を作成します。
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("output directory is required")
	}
	return &Local{root: root}, nil
}

// Save は text を一時ファイルに書いてからリネームし、保存先パスを返します。
func (l *Local) Save(ctx context.Context, sessionID, text string) (string, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ArtifactName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.WriteString(tmp, text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write output: %w", err)
	}

	path := filepath.Join(dir, ArtifactName)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to finalize output: %w", err)
	}
	return path, nil
}

// Resolve は保存済み成果物のパスを返します。存在しなければ ErrArtifactNotFound です。
func (l *Local) Resolve(ctx context.Context, sessionID string) (string, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ArtifactName)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, sessionID)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, sessionID)
	}
	return path, nil
}

// Open は成果物を開き、サイズとともに返します。
func (l *Local) Open(ctx context.Context, sessionID string) (io.ReadCloser, int64, error) {
	path, err := l.Resolve(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open output: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (l *Local) sessionDir(sessionID string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(l.root, sessionID), nil
}

// validateSessionID はパスとして安全でないIDを拒否します。
func validateSessionID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}
