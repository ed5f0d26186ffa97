package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Giorgiomufen/display-sync/internal/config"
	"github.com/Giorgiomufen/display-sync/internal/importer"
	"github.com/Giorgiomufen/display-sync/internal/logging"
	"github.com/Giorgiomufen/display-sync/internal/netinfo"
	"github.com/Giorgiomufen/display-sync/internal/web"
	"github.com/Giorgiomufen/display-sync/pkg/hub"
	"github.com/Giorgiomufen/display-sync/pkg/media"
	"github.com/Giorgiomufen/display-sync/pkg/store"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and sync servers",
		Long: `Run the HTTP server (pages, library API, media, metrics) and the
WebSocket sync server until interrupted.

Examples:
  displaysync serve
  displaysync serve --config displaysync.yaml
  displaysync serve --http-addr :8080 --ws-addr :8081 --public-dir ./public`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("http-addr", "", "HTTP listen address (default :3000)")
	cmd.Flags().String("ws-addr", "", "WebSocket listen address (default :3001)")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().String("public-dir", "", "Directory with control.html and display.html")

	return cmd
}

// loadConfig layers the config file, environment and flags, then validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	override := func(flag string, dst *string) {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	override("http-addr", &cfg.HTTPAddr)
	override("ws-addr", &cfg.WSAddr)
	override("log-level", &cfg.Log.Level)
	override("public-dir", &cfg.PublicDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var opts []store.SQLStoreOption
	if cfg.Store.TablePrefix != "" {
		opts = append(opts, store.WithSQLTablePrefix(cfg.Store.TablePrefix))
	}
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, opts...)
}

// openMedia returns the media store for the configured backend, and the
// handler serving it over HTTP when the backend needs one.
func openMedia(cfg *config.Config) (media.Store, http.Handler, error) {
	switch cfg.Media.Backend {
	case config.MediaDisk:
		ds, err := media.NewDiskStore(cfg.Media.Dir, cfg.Media.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("media: %w", err)
		}
		return ds, ds.Handler(), nil
	case config.MediaS3:
		s3cfg := media.S3Config{
			Bucket:       cfg.Media.S3.Bucket,
			Prefix:       cfg.Media.S3.Prefix,
			Region:       cfg.Media.S3.Region,
			Endpoint:     cfg.Media.S3.Endpoint,
			UsePathStyle: cfg.Media.S3.UsePathStyle,
			PublicURL:    cfg.Media.S3.PublicURL,
			URLExpiry:    cfg.URLExpiry(),
		}
		return media.NewS3Store(media.NewS3Client(s3cfg), s3cfg), nil, nil
	}
	return nil, nil, nil
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger, logCloser := logging.New(logging.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		File:      cfg.Log.File,
		AddSource: cfg.Log.AddSource,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mediaStore, mediaHandler, err := openMedia(cfg)
	if err != nil {
		return err
	}
	var resolver *media.Resolver
	if mediaStore != nil {
		resolver = media.NewResolver(mediaStore, cfg.MediaMaxSize())
		if age := cfg.RetentionAge(); age > 0 {
			retention, err := media.NewRetention(mediaStore, cfg.Media.Schedule, age, logger)
			if err != nil {
				return fmt.Errorf("media retention: %w", err)
			}
			retention.Start()
			defer retention.Stop()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	checkOrigin := hub.AllowAllOrigins
	if len(cfg.AllowedOrigins) > 0 {
		checkOrigin = hub.AllowOrigins(cfg.AllowedOrigins...)
	}

	lanIP := netinfo.Resolve(cfg.LanIP)
	h := hub.New(&hub.Config{
		Store:           st,
		Media:           resolver,
		Logger:          logger,
		Registerer:      reg,
		DisplayCount:    cfg.DisplayCount,
		MaxDisplayCount: cfg.MaxDisplayCount,
		LanIP:           lanIP,
		HTTPPort:        config.Port(cfg.HTTPAddr),
		MaxMessageSize:  cfg.MaxMessageSize,
		CheckOrigin:     checkOrigin,
	})

	var im *importer.Importer
	if cfg.Import.Dir != "" {
		im, err = importer.New(h, importer.Options{Dir: cfg.Import.Dir, Remove: cfg.Import.Remove, Logger: logger})
		if err != nil {
			return err
		}
	}

	webOpts := web.Options{
		Backend:     h,
		Media:       mediaHandler,
		MediaPrefix: cfg.Media.URL,
		PublicDir:   cfg.PublicDir,
		ScenesDir:   cfg.ScenesDir,
		Logger:      logger,
	}
	if cfg.Metrics.Enabled {
		webOpts.Gatherer = reg
		webOpts.MetricsPath = cfg.Metrics.Path
	}

	httpSrv := &http.Server{
		Handler:           web.NewRouter(webOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wsSrv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	wsLn, err := net.Listen("tcp", cfg.WSAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listen %s: %w", cfg.WSAddr, err)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- h.Run(hubCtx)
	}()

	serve := func(name string, srv *http.Server, ln net.Listener) {
		defer wg.Done()
		logger.Info("listening", "server", name, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	wg.Add(2)
	go serve("http", httpSrv, httpLn)
	go serve("ws", wsSrv, wsLn)

	if im != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := im.Run(ctx); err != nil {
				logger.Warn("importer stopped", "error", err)
			}
		}()
	}

	logger.Info("displaysync ready",
		"control", fmt.Sprintf("http://%s:%d/control", lanIP, config.Port(cfg.HTTPAddr)),
		"displays", cfg.DisplayCount,
		"store", cfg.Store.Driver,
		"media", cfg.Media.Backend,
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	// Hijacked sync connections are not tracked by Shutdown; stopping the
	// hub closes them.
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ws shutdown", "error", err)
	}
	stopHub()
	wg.Wait()

	return runErr
}
