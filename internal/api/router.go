// api/router.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const ctxRequestID = "requestID"

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(s.requestLogger(), gin.CustomRecovery(s.recovered))

	api := r.Group("/api")
	{
		// единая точка входа для записей
		api.GET("/records", s.Records)
		api.POST("/records", s.Records)
		api.OPTIONS("/records", s.Preflight)

		api.GET("/meta", s.Meta)

		api.POST("/files", s.UploadFile)
		api.GET("/files/:id", s.DownloadFile)

		api.POST("/admin/reload", s.AdminReload)
	}
	return r
}

// RunServer слушает addr до отмены ctx, затем гасит соединения.
func RunServer(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("http server started", "addr", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Info("http server stopping")
	return srv.Shutdown(shutdownCtx)
}

// requestLogger пишет одну строку на запрос. Query не логируется: там бывает токен.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = s.ids.New(start)
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-ID", id)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.log.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("request_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) recovered(c *gin.Context, rec any) {
	s.log.Error("panic recovered", "request_id", c.GetString(ctxRequestID), "panic", rec)
	respondError(c, http.StatusInternalServerError, "Internal server error", nil)
}

// Preflight отвечает на CORS OPTIONS.
func (s *Server) Preflight(c *gin.Context) {
	setCORS(c)
	c.Status(http.StatusNoContent)
}

func setCORS(c *gin.Context) {
	origin := c.GetHeader("Origin")
	if origin == "" {
		origin = "*"
	} else {
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Credentials", "true")
	}
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Authorization, X-API-Token, X-Request-ID")
	c.Header("Access-Control-Max-Age", "600")
}
