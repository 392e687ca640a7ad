package api

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterOptions はルーター構築時の設定です。
type RouterOptions struct {
	// AllowedOrigins はカンマ区切りの CORS 許可オリジンです。
	AllowedOrigins string
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

// NewRouter はミドルウェアとルーティングを設定した gin.Engine を返します。
// gin のモードは呼び出し側で設定してください。
func NewRouter(svc Service, opts RouterOptions) *gin.Engine {
	// デフォルトミドルウェア: Logger, Recovery
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(opts.AllowedOrigins)
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition"}
	router.Use(cors.New(corsConfig))

	logger := opts.Logger.With().Str("component", "http").Logger()

	router.GET("/health", handleHealth)
	router.POST("/upload", UploadHandler(svc, opts.MaxUploadBytes, logger))
	router.GET("/status/:id", StatusHandler(svc, logger))
	router.GET("/download/:id/:kind", DownloadHandler(svc, logger))
	return router
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
