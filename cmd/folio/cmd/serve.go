package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MeKo-Tech/folio/internal/config"
	"github.com/MeKo-Tech/folio/internal/server"
	"github.com/MeKo-Tech/folio/internal/store"
	"github.com/MeKo-Tech/folio/internal/version"
	"github.com/spf13/cobra"
)

var serveBindings = []flagBinding{
	{"server.host", "host"},
	{"server.port", "port"},
	{"server.cors_origin", "cors-origin"},
	{"server.max_upload_mb", "max-upload-size"},
	{"server.timeout_sec", "timeout"},
	{"server.shutdown_timeout", "shutdown-timeout"},
	{"server.upload_dir", "upload-dir"},
	{"server.rate_limit.enabled", "rate-limit-enabled"},
	{"server.rate_limit.requests_per_minute", "requests-per-minute"},
	{"server.rate_limit.requests_per_hour", "requests-per-hour"},
	{"server.rate_limit.max_requests_per_day", "max-requests-per-day"},
	{"server.rate_limit.max_data_per_day_mb", "max-data-per-day"},
	{"store.driver", "store"},
	{"store.path", "store-path"},
}

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start an HTTP server with a document workspace for OCR and DOCX export.

The server provides the following endpoints:
  GET    /health                       - Health check
  GET    /metrics                      - Prometheus metrics
  GET    /api/status                   - OCR engine status
  GET    /api/models                   - Layout models and availability
  POST   /api/load-model               - Warm up the OCR model
  POST   /api/upload                   - Upload images or PDFs (event stream)
  GET    /api/documents                - List documents
  GET    /api/documents/{id}           - Get a document
  DELETE /api/documents/{id}           - Delete a document
  GET    /api/images/{id}/{file}       - Page image
  POST   /api/ocr/{id}/{page}          - OCR one page
  POST   /api/ocr/{id}/all             - OCR every page
  GET    /api/preview/{id}/{page}      - HTML preview of a page
  GET    /api/export/{id}?pages=1,2    - DOCX export
  GET    /ws/ocr/{id}                  - OCR every page with websocket progress

Examples:
  folio serve
  folio serve --port 8080
  folio serve --host 0.0.0.0 --store sqlite --store-path folio.db`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ctrl, cleanup, err := buildController(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		st, err := store.Open(cfg.ToStoreConfig())
		if err != nil {
			return fmt.Errorf("failed to open document store: %w", err)
		}

		ocrServer, err := server.NewServer(serverConfig(cfg), ctrl, st)
		if err != nil {
			_ = st.Close()
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		if err := ocrServer.CleanupOrphans(ctx); err != nil {
			slog.Warn("Orphan cleanup incomplete", "error", err)
		}

		// OCR responses are written after up to TimeoutSec of work.
		httpServer := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           ocrServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.TimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(cfg.Server.TimeoutSec+30) * time.Second,
		}

		go func() {
			slog.Info("Starting folio server",
				"host", cfg.Server.Host,
				"port", cfg.Server.Port,
				"backend", cfg.Engine.Backend,
				"store", cfg.Store.Driver,
				"version", version.Version)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := ocrServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// serverConfig maps the loaded configuration onto server.Config.
func serverConfig(cfg *config.Config) server.Config {
	rl := cfg.Server.RateLimit
	return server.Config{
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		TimeoutSec:  cfg.Server.TimeoutSec,
		UploadDir:   cfg.Server.UploadDir,
		ModelsDir:   cfg.ModelsDir,
		Version:     version.Version,
		Pipeline:    cfg.ToPipelineConfig(),
		ExportStyle: cfg.ToExportStyle(),
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     rl.MaxDataPerDayMB << 20,
		},
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	commandBindings[serveCmd] = [][]flagBinding{pipelineBindings, serveBindings}
	d := config.DefaultConfig()
	serveCmd.Flags().StringP("host", "H", d.Server.Host, "server host")
	serveCmd.Flags().IntP("port", "p", d.Server.Port, "server port")
	serveCmd.Flags().String("cors-origin", d.Server.CORSOrigin, "CORS allowed origin")
	serveCmd.Flags().Int("max-upload-size", d.Server.MaxUploadMB, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", d.Server.TimeoutSec, "OCR request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", d.Server.ShutdownTimeout, "shutdown timeout in seconds")
	serveCmd.Flags().String("upload-dir", d.Server.UploadDir, "directory for uploaded documents")
	serveCmd.Flags().String("store", d.Store.Driver, "document store: memory or sqlite")
	serveCmd.Flags().String("store-path", d.Store.Path, "SQLite database file")
	serveCmd.Flags().Bool("rate-limit-enabled", d.Server.RateLimit.Enabled, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", d.Server.RateLimit.RequestsPerMinute, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", d.Server.RateLimit.RequestsPerHour, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", d.Server.RateLimit.MaxRequestsPerDay, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", d.Server.RateLimit.MaxDataPerDayMB, "maximum upload MB per day per client")
	addPipelineFlags(serveCmd)
}
