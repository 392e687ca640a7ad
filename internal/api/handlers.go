// Package api は学習ノート生成サービスの HTTP インターフェースを提供します。
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/notepilot/internal/jobs"
	"github.com/yourusername/notepilot/internal/pdf"
	"github.com/yourusername/notepilot/internal/storage"
)

// Service はハンドラーが利用するセッション操作です。jobs.Manager が実装します。
type Service interface {
	Submit(ctx context.Context, filename string, body io.Reader, formatMode string) (string, error)
	GetStatus(ctx context.Context, sessionID string) (*jobs.Record, error)
	Download(ctx context.Context, sessionID, kind string) (*jobs.Artifact, error)
	DownloadURL(record *jobs.Record) string
}

var _ Service = (*jobs.Manager)(nil)

// multipart のヘッダー分としてファイル上限に上乗せするバイト数
const multipartOverhead = 1 << 20

// UploadHandler は POST /upload のハンドラーを返します。
func UploadHandler(svc Service, maxUploadBytes int64, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+multipartOverhead)
		}

		form, err := c.MultipartForm()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondWithError(c, logger, &pdf.Error{
					Code:    pdf.CodeLimitExceeded,
					Message: fmt.Sprintf("file size exceeds the limit of %d bytes", maxUploadBytes),
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  pdf.CodeInvalidInput,
				"error": "No file uploaded",
			})
			return
		}
		defer form.RemoveAll()

		header, problem := extractSingleFile(form)
		if header == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  pdf.CodeInvalidInput,
				"error": problem,
			})
			return
		}

		file, err := header.Open()
		if err != nil {
			respondWithError(c, logger, fmt.Errorf("failed to open upload: %w", err))
			return
		}
		defer file.Close()

		sessionID, err := svc.Submit(c.Request.Context(), header.Filename, file, c.PostForm("format"))
		if err != nil {
			respondWithError(c, logger, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
	}
}

// StatusHandler は GET /status/:id のハンドラーを返します。
func StatusHandler(svc Service, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := strings.TrimSpace(c.Param("id"))

		record, err := svc.GetStatus(c.Request.Context(), sessionID)
		if err != nil {
			if errors.Is(err, jobs.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
				return
			}
			respondWithError(c, logger, err)
			return
		}

		payload := gin.H{
			"session_id": record.SessionID,
			"status":     record.Status,
			"format":     record.FormatMode,
			"updated_at": record.UpdatedAt.Format(time.RFC3339),
		}
		if record.CurrentStep != "" {
			payload["step"] = record.CurrentStep
		}
		if record.Status == jobs.StatusFailed {
			payload["message"] = record.ErrorMessage
		}
		if u := svc.DownloadURL(record); u != "" {
			payload["download_url"] = u
		}
		c.JSON(http.StatusOK, payload)
	}
}

// DownloadHandler は GET /download/:id/:kind のハンドラーを返します。
func DownloadHandler(svc Service, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		artifact, err := svc.Download(c.Request.Context(), c.Param("id"), c.Param("kind"))
		if err != nil {
			respondWithError(c, logger, err)
			return
		}
		defer artifact.Body.Close()

		encodedName := url.PathEscape(artifact.Filename)
		contentType := "text/plain; charset=utf-8"
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", artifact.Filename, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Session-Id", artifact.SessionID)
		c.DataFromReader(http.StatusOK, artifact.Size, contentType, artifact.Body, nil)
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "notepilot-api",
	})
}

func respondWithError(c *gin.Context, logger zerolog.Logger, err error) {
	var apiErr *pdf.Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		if apiErr.Code == pdf.CodeLimitExceeded {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"code":  apiErr.Code,
			"error": apiErr.Message,
		})
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrDispatcherClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "QUEUE_FULL",
			"error": "The server is busy. Please try again later.",
		})
	case errors.Is(err, jobs.ErrSessionNotFound), errors.Is(err, jobs.ErrNotReady):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "NOT_READY",
			"error": "File not ready",
		})
	case errors.Is(err, jobs.ErrUnsupportedArtifact):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNSUPPORTED_ARTIFACT",
			"error": "Only text files available",
		})
	case errors.Is(err, storage.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "NOT_FOUND",
			"error": "File not found",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":  "REQUEST_CANCELED",
			"error": "The request was canceled.",
		})
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "An internal server error occurred.",
		})
	}
}

// extractSingleFile は "file" フィールドの先頭ファイルを返します。見つからない場合は利用者向けの理由を返します。
func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, string) {
	if form == nil {
		return nil, "No file uploaded"
	}
	files := form.File["file"]
	if len(files) == 0 {
		files = form.File["file[]"]
	}
	if len(files) == 0 {
		return nil, "No file uploaded"
	}
	if strings.TrimSpace(files[0].Filename) == "" {
		return nil, "No file selected"
	}
	return files[0], ""
}
