// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// キュー/レジストリのバックエンド種別
const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

// ラスタライザーの種別
const (
	RasterizerGhostscript = "ghostscript"
	RasterizerFitz        = "fitz"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize int64 // アップロードの最大サイズ（バイト）
	MaxPages    int   // 単一ファイルの最大ページ数

	// 作業ディレクトリ
	UploadDir string // アップロードされたPDFの保存先
	ImagesDir string // ページ画像の一時保存先（セッション単位）
	OutputDir string // 生成テキストの保存先（セッション単位）

	// ジョブ/キュー設定
	QueueBackend      string // memory または redis
	QueueRedisURL     string // Asynq/レジストリ用Redis接続URL
	WorkerCount       int    // 同時に実行するパイプライン数
	QueueSize         int    // 待機できるタスク数（memoryバックエンドのみ）
	SessionTTLMinutes int    // セッション保持期間（0 は無期限）
	CleanupOnFailure  bool   // 失敗時もページ画像を削除するか
	JobResultBaseURL  string // ダウンロードURL生成用のベースURL

	// パイプライン設定
	MaxChunkSize    int    // 生成エンジンへ渡す1チャンクの最大文字数
	Rasterizer      string // ghostscript または fitz
	GhostscriptPath string // Ghostscript実行ファイルのパス
	RasterDPI       int    // ページ画像の解像度
	JPEGQuality     int    // ページ画像のJPEG品質
	TesseractPath   string // tesseract実行ファイルのパス
	OCRLanguage     string // tesseractの言語指定

	// GCP設定
	GCPProject      string // GCPプロジェクトID
	VertexAIRegion  string // Vertex AI のリージョン
	GenerationModel string // 生成モデル名
	GCSBucket       string // 成果物を保存するバケット（空ならローカル保存）
	GCSPrefix       string // バケット内のプレフィックス

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // console または json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8000"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		MaxPages:    getEnvAsInt("MAX_PAGES", 200),

		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
		ImagesDir: getEnv("IMAGES_DIR", "temp_images"),
		OutputDir: getEnv("OUTPUT_DIR", "user_outputs"),

		QueueBackend:      strings.ToLower(getEnv("QUEUE_BACKEND", QueueBackendMemory)),
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		WorkerCount:       getEnvAsInt("WORKER_COUNT", 4),
		QueueSize:         getEnvAsInt("QUEUE_SIZE", 64),
		SessionTTLMinutes: getEnvAsInt("SESSION_TTL_MINUTES", 0),
		CleanupOnFailure:  getEnvAsBool("CLEANUP_ON_FAILURE", false),
		JobResultBaseURL:  getEnv("JOB_RESULT_BASE_URL", ""),

		MaxChunkSize:    getEnvAsInt("MAX_CHUNK_SIZE", 15000),
		Rasterizer:      strings.ToLower(getEnv("RASTERIZER", RasterizerGhostscript)),
		GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", "gs"),
		RasterDPI:       getEnvAsInt("RASTER_DPI", 300),
		JPEGQuality:     getEnvAsInt("JPEG_QUALITY", 95),
		TesseractPath:   getEnv("TESSERACT_PATH", "tesseract"),
		OCRLanguage:     getEnv("OCR_LANGUAGE", "eng"),

		GCPProject:      getEnv("GCP_PROJECT", ""),
		VertexAIRegion:  getEnv("VERTEX_AI_REGION", "us-central1"),
		GenerationModel: getEnv("GENERATION_MODEL", "gemini-1.5-flash"),
		GCSBucket:       getEnv("GCS_BUCKET", ""),
		GCSPrefix:       getEnv("GCS_PREFIX", "outputs"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case QueueBackendMemory:
		if c.QueueSize <= 0 {
			return fmt.Errorf("QUEUE_SIZE must be positive")
		}
	case QueueBackendRedis:
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required when QUEUE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND: %s", c.QueueBackend)
	}

	switch c.Rasterizer {
	case RasterizerGhostscript:
		if c.GhostscriptPath == "" {
			return fmt.Errorf("GHOSTSCRIPT_PATH is required when RASTERIZER=ghostscript")
		}
	case RasterizerFitz:
	default:
		return fmt.Errorf("unknown RASTERIZER: %s", c.Rasterizer)
	}

	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive")
	}
	if c.RasterDPI < 36 || c.RasterDPI > 1200 {
		return fmt.Errorf("RASTER_DPI must be between 36 and 1200")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100")
	}
	if c.SessionTTLMinutes < 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must not be negative")
	}

	// 本番環境では生成エンジンの接続先を必須とする
	if c.GinMode == "release" && c.GCPProject == "" {
		return fmt.Errorf("GCP_PROJECT is required in release mode")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
