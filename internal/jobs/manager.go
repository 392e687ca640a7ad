package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ArtifactKindText はダウンロード可能な唯一の成果物種別です。
const ArtifactKindText = "text"

// DefaultFormatMode はフォーマット未指定時に使うモードです。
const DefaultFormatMode = "1"

// ArtifactFilename はダウンロード時のファイル名です。
const ArtifactFilename = "StudyMaterial.txt"

var (
	ErrNotReady            = errors.New("artifact is not ready")
	ErrUnsupportedArtifact = errors.New("unsupported artifact kind")
)

// DocumentIntake はアップロードされた文書を検証して保存します。
type DocumentIntake interface {
	Store(ctx context.Context, sessionID, filename string, body io.Reader) (string, error)
	Discard(path string) error
}

// ArtifactReader は完了済みセッションの成果物の保存先を解決し、開きます。
type ArtifactReader interface {
	Resolve(ctx context.Context, sessionID string) (string, error)
	Open(ctx context.Context, sessionID string) (io.ReadCloser, int64, error)
}

// Artifact はダウンロード対象の成果物です。Body は呼び出し側で閉じてください。
type Artifact struct {
	SessionID string
	Filename  string
	Location  string
	Size      int64
	Body      io.ReadCloser
}

// ManagerOptions は Manager の依存関係です。
type ManagerOptions struct {
	Registry      Registry
	Dispatcher    Dispatcher
	Intake        DocumentIntake
	Artifacts     ArtifactReader
	ResultBaseURL string
	Logger        zerolog.Logger
}

// Manager はセッションの投入・状態取得・成果物取得を担います。
type Manager struct {
	registry      Registry
	dispatcher    Dispatcher
	intake        DocumentIntake
	artifacts     ArtifactReader
	resultBaseURL string
	logger        zerolog.Logger
	newID         func() string
}

// NewManager は Manager を初期化します。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is nil")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	if opts.Intake == nil {
		return nil, errors.New("intake is nil")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("artifacts is nil")
	}
	return &Manager{
		registry:      opts.Registry,
		dispatcher:    opts.Dispatcher,
		intake:        opts.Intake,
		artifacts:     opts.Artifacts,
		resultBaseURL: opts.ResultBaseURL,
		logger:        opts.Logger.With().Str("component", "manager").Logger(),
		newID:         uuid.NewString,
	}, nil
}

// Submit は文書を保存してセッションを作成し、パイプライン実行をキューへ投入します。
// 入力エラーはセッションを作らずに返します。ステージのエラーはここでは返りません。
func (m *Manager) Submit(ctx context.Context, filename string, body io.Reader, formatMode string) (string, error) {
	if body == nil {
		return "", fmt.Errorf("document body is nil")
	}
	formatMode = strings.TrimSpace(formatMode)
	if formatMode == "" {
		formatMode = DefaultFormatMode
	}

	sessionID := m.newID()
	docPath, err := m.intake.Store(ctx, sessionID, filename, body)
	if err != nil {
		return "", err
	}

	if err := m.registry.Create(ctx, sessionID, formatMode); err != nil {
		m.discard(docPath)
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	err = m.dispatcher.Dispatch(ctx, Task{
		SessionID:    sessionID,
		DocumentPath: docPath,
		FormatMode:   formatMode,
	})
	if err != nil {
		// 作成済みのセッションは失敗として残し、ポーリング側にも見えるようにする
		if tErr := m.registry.Transition(context.WithoutCancel(ctx), sessionID, StatusFailed, Update{
			ErrorMessage: fmt.Sprintf("failed to enqueue: %v", err),
		}); tErr != nil {
			m.logger.Error().Err(tErr).Str("session_id", sessionID).Msg("failed to mark undispatched session")
		}
		m.discard(docPath)
		return "", fmt.Errorf("failed to dispatch session %s: %w", sessionID, err)
	}

	m.logger.Info().
		Str("session_id", sessionID).
		Str("filename", filename).
		Str("format", formatMode).
		Msg("session queued")
	return sessionID, nil
}

// GetStatus はセッションの状態レコードを返します。未知のIDには ErrSessionNotFound を返します。
func (m *Manager) GetStatus(ctx context.Context, sessionID string) (*Record, error) {
	return m.registry.Get(ctx, sessionID)
}

// Download は完了済みセッションのテキスト成果物を開きます。
func (m *Manager) Download(ctx context.Context, sessionID, kind string) (*Artifact, error) {
	record, err := m.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isTextKind(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArtifact, kind)
	}
	if record.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: session %s is %s", ErrNotReady, sessionID, record.Status)
	}

	location, err := m.artifacts.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	body, size, err := m.artifacts.Open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		SessionID: sessionID,
		Filename:  ArtifactFilename,
		Location:  location,
		Size:      size,
		Body:      body,
	}, nil
}

// DownloadURL は完了済みレコードのダウンロードURLを返します。未完了なら空文字です。
func (m *Manager) DownloadURL(record *Record) string {
	if record == nil || record.Status != StatusCompleted {
		return ""
	}
	base := m.resultBaseURL
	if base == "" {
		return fmt.Sprintf("/download/%s/txt", url.PathEscape(record.SessionID))
	}
	return fmt.Sprintf("%s/%s/txt", strings.TrimRight(base, "/"), url.PathEscape(record.SessionID))
}

func (m *Manager) discard(path string) {
	if err := m.intake.Discard(path); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("failed to discard stored document")
	}
}

func isTextKind(kind string) bool {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case ArtifactKindText, "txt":
		return true
	}
	return false
}
