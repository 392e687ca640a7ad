package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const (
	pdfMIME          = "application/pdf"
	defaultDocName   = "document.pdf"
	maxStoredNameLen = 120
)

// Intake はアップロードされたPDFを検証し、アップロードディレクトリへ保存します。
type Intake struct {
	uploadDir   string
	maxFileSize int64
	maxPages    int
}

// NewIntake は Intake を作成します。maxFileSize と maxPages は 0 以下で無制限です。
func NewIntake(uploadDir string, maxFileSize int64, maxPages int) (*Intake, error) {
	if uploadDir == "" {
		return nil, errors.New("uploadDir is required")
	}
	return &Intake{
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
		maxPages:    maxPages,
	}, nil
}

// Store は body を <uploadDir>/<sessionID>_<name>.pdf に書き出して検証し、保存先パスを返します。
// 検証に失敗した場合はファイルを残さずに *Error を返します。
func (in *Intake) Store(ctx context.Context, sessionID, filename string, body io.Reader) (_ string, err error) {
	if sessionID == "" {
		return "", errors.New("sessionID is required")
	}
	if body == nil {
		return "", newError(CodeInvalidInput, "please select a PDF file", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(in.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(in.uploadDir, sessionID+"_"+sanitizeFilename(filename))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	src := body
	if in.maxFileSize > 0 {
		src = io.LimitReader(body, in.maxFileSize+1)
	}
	written, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return "", fmt.Errorf("failed to store upload: %w", copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to store upload: %w", closeErr)
	}

	if written == 0 {
		return "", newError(CodeInvalidInput, "the uploaded file is empty", nil)
	}
	if in.maxFileSize > 0 && written > in.maxFileSize {
		return "", newError(CodeLimitExceeded, fmt.Sprintf("file size exceeds the limit of %d bytes", in.maxFileSize), nil)
	}

	if err := in.validate(path); err != nil {
		return "", err
	}
	return path, nil
}

// Discard は保存済みの文書を削除します。存在しない場合は何もしません。
func (in *Intake) Discard(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (in *Intake) validate(path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to detect file type: %w", err)
	}
	if !mtype.Is(pdfMIME) {
		return newError(CodeUnsupportedPDF, fmt.Sprintf("only PDF files are supported (detected %s)", mtype.String()), nil)
	}

	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return newError(CodeUnsupportedPDF, "the PDF could not be read", err)
	}
	if pages == 0 {
		return newError(CodeUnsupportedPDF, "the PDF has no pages", nil)
	}
	if in.maxPages > 0 && pages > in.maxPages {
		return newError(CodeLimitExceeded, fmt.Sprintf("page count %d exceeds the limit of %d", pages, in.maxPages), nil)
	}
	return nil
}

// sanitizeFilename はパス区切りや制御文字を取り除き、拡張子 .pdf を保証します。
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == ':' || r == '"' || r == '<' || r == '>' || r == '|' || r == '?' || r == '*':
			return '_'
		case unicode.IsControl(r):
			return -1
		case unicode.IsSpace(r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, "._")

	base := strings.TrimSuffix(name, filepath.Ext(name))
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		name = base
	}
	if runes := []rune(name); len(runes) > maxStoredNameLen {
		name = string(runes[:maxStoredNameLen])
	}
	if name == "" {
		return defaultDocName
	}
	return name + ".pdf"
}
