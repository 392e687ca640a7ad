package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/notepilot/internal/api"
)

const shutdownTimeout = 30 * time.Second

// Handler は API ルーターを返します。
func (a *App) Handler() http.Handler {
	return api.NewRouter(a.Manager, api.RouterOptions{
		AllowedOrigins: a.Config.CORSAllowedOrigins,
		MaxUploadBytes: a.Config.MaxFileSize,
		Logger:         a.logger,
	})
}

// Serve はワーカーを起動して HTTP サーバーを待ち受け、ctx の終了で順に停止します。
func (a *App) Serve(ctx context.Context) error {
	gin.SetMode(a.Config.GinMode)
	a.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Str("mode", a.Config.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	a.logger.Info().Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("pipeline shutdown failed")
	}
	return serveErr
}
