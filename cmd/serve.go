// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/browse"
	reqctx "github.com/LeeDigitalWorks/zapdrop/pkg/context"
	"github.com/LeeDigitalWorks/zapdrop/pkg/debug"
	"github.com/LeeDigitalWorks/zapdrop/pkg/events"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/reaper"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/tracker"
	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"
	"github.com/LeeDigitalWorks/zapdrop/pkg/transfer"
	"github.com/LeeDigitalWorks/zapdrop/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ServeOpts holds all configuration for the upload server
type ServeOpts struct {
	// Network binding
	BindAddr    string // Interface to listen on (e.g., "0.0.0.0")
	HTTPPort    int    // Upload and directory API port
	DebugPort   int    // Metrics, health and admin port
	IdleTimeout time.Duration

	// Storage
	StorageRoot  string
	StagingDir   string // Absolute, or relative to StorageRoot
	MinFreeSpace string

	// Transfer
	TusBasePath             string
	MaxUploadSize           int64
	RespectForwardedHeaders bool

	// Reconciliation
	CopyChunkSize     int64
	StabilityInterval time.Duration
	StabilityChecks   int
	StabilityTimeout  time.Duration
	OrphanTimeout     time.Duration
	ReaperInterval    time.Duration

	// Notifications
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	KafkaBrokers       []string
	KafkaTopic         string
	KafkaTLS           bool
	KafkaSASLMechanism string
	KafkaSASLUsername  string
	KafkaSASLPassword  string

	// Logging
	LogLevel  string
	LogFormat string

	ShutdownTimeout time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload server",
	Long: `Start the ZapDrop upload server. It serves the tus endpoint and the
directory API, reconciles completed uploads into the storage root, and reaps
parted uploads whose remaining parts never arrive.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()

	// Network binding
	f.String("bind_addr", "0.0.0.0", "Interface to bind the HTTP servers to")
	f.Int("http_port", 8080, "Upload and directory API port")
	f.Int("debug_port", 8090, "Debug/metrics HTTP port")
	f.Duration("idle_timeout", 2*time.Minute, "Drop connections that send nothing for this long (0 = never)")

	// Storage
	f.String("storage_root", "/data", "Directory uploads are published into")
	f.String("staging_dir", ".staging", "Directory for in-progress sessions, absolute or relative to storage_root")
	f.String("min_free_space", "", "Refuse uploads below this much free space on the storage volume (e.g. '5%' or '10GiB')")

	// Transfer
	f.String("tus_base_path", transfer.DefaultBasePath, "URL path the tus endpoint is mounted at")
	f.String("max_upload_size", "20GiB", "Largest session length a client may declare (0 = unlimited)")
	f.Bool("respect_forwarded_headers", false, "Build upload URLs from X-Forwarded-* headers")

	// Reconciliation
	f.String("copy_chunk_size", "32MiB", "Buffer size for concatenating parts and cross-volume copies")
	f.Duration("stability_interval", ingest.DefaultStabilityInterval, "Poll interval while waiting for staged bytes to settle")
	f.Int("stability_checks", ingest.DefaultStabilityChecks, "Consecutive unchanged size observations required")
	f.Duration("stability_timeout", ingest.DefaultStabilityTimeout, "Give up waiting for staged bytes after this long")
	f.Duration("orphan_timeout", reaper.DefaultTimeout, "Discard parted uploads still incomplete after this long")
	f.Duration("reaper_interval", reaper.DefaultInterval, "How often to look for orphaned parted uploads")

	// Notifications
	f.String("redis_addr", "", "Redis address for published-file notifications (empty = disabled)")
	f.String("redis_password", "", "Redis password")
	f.Int("redis_db", 0, "Redis database number")
	f.String("redis_channel", "zapdrop", "Redis pub/sub channel prefix")
	f.StringSlice("kafka_brokers", nil, "Kafka brokers for published-file notifications (empty = disabled)")
	f.String("kafka_topic", "zapdrop-uploads", "Kafka topic for notifications")
	f.Bool("kafka_tls", false, "Use TLS for Kafka broker connections")
	f.String("kafka_sasl_mechanism", "", "Kafka SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)")
	f.String("kafka_sasl_username", "", "Kafka SASL username")
	f.String("kafka_sasl_password", "", "Kafka SASL password")

	// Logging
	f.String("log_level", "info", "Log level (debug, info, warn, error)")
	f.String("log_format", "json", "Log format (json or console)")

	f.Duration("shutdown_timeout", 30*time.Second, "How long to wait for uploads and reconciliations on shutdown")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("zapdrop", false)
	opts, err := loadServeOpts(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := logger.Configure(opts.LogLevel, opts.LogFormat); err != nil {
		logger.Fatal().Err(err).Str("log_level", opts.LogLevel).Msg("invalid log level")
	}

	debug.SetNotReady()

	root, err := utils.EnsureDir(opts.StorageRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage root")
	}
	if err := utils.TestWritableFile(root); err != nil {
		logger.Fatal().Err(err).Str("storage_root", root).Msg("storage root is not writable")
	}

	stagingDir := opts.StagingDir
	if !filepath.IsAbs(stagingDir) {
		stagingDir = filepath.Join(root, stagingDir)
	}
	stage, err := staging.NewLocal(stagingDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare staging directory")
	}
	if same, err := utils.SameFilesystem(root, stage.Dir()); err == nil && !same {
		logger.Warn().
			Str("storage_root", root).
			Str("staging_dir", stage.Dir()).
			Msg("staging and storage are on different filesystems; publishing will copy instead of rename")
	}

	emitter := newEmitter(opts)

	svc, err := ingest.NewService(ingest.Config{
		StorageRoot:       root,
		Staging:           stage,
		Tracker:           tracker.New(),
		Emitter:           emitter,
		CopyChunkSize:     int(opts.CopyChunkSize),
		StabilityInterval: opts.StabilityInterval,
		StabilityChecks:   opts.StabilityChecks,
		StabilityTimeout:  opts.StabilityTimeout,
		OnDataLoss:        reportDataLoss,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create ingest service")
	}

	guardOpts := []ingest.GuardOption{ingest.WithStagingDir(stage.Dir())}
	if opts.MinFreeSpace != "" {
		minFree, err := utils.ParseMinFreeSpace(opts.MinFreeSpace)
		if err != nil {
			logger.Fatal().Err(err).Str("min_free_space", opts.MinFreeSpace).Msg("invalid min_free_space")
		}
		guardOpts = append(guardOpts, ingest.WithMinFreeSpace(minFree))
	}
	guard := ingest.NewGuard(root, guardOpts...)

	tus, err := transfer.NewServer(transfer.Config{
		BasePath:                opts.TusBasePath,
		MaxSize:                 opts.MaxUploadSize,
		RespectForwardedHeaders: opts.RespectForwardedHeaders,
		Staging:                 stage,
		Service:                 svc,
		Guard:                   guard,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create tus server")
	}
	debug.Registry().MustRegister(tus.Collector())

	browser, err := browse.NewHandler(root, stage.Dir())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create directory API")
	}

	mux := http.NewServeMux()
	mux.Handle(tus.BasePath(), tus.Handler())
	browser.RegisterRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		tus.Run(ctx)
	}()

	if _, err := tus.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to recover staged uploads")
	}

	orphans := reaper.New(reaper.Config{
		Tracker:   svc.Tracker(),
		Discarder: svc,
		Interval:  opts.ReaperInterval,
		Timeout:   opts.OrphanTimeout,
	})
	orphans.Start(ctx)

	// Register admin handlers on debug mux (must be before GetMux())
	svc.RegisterAdminHandlers()
	debug.RegisterHandlerFunc("/admin/version", handleVersion)
	debug.AddReadyCheck("free_space", guard.Ready)
	debug.AddReadyCheck("storage_writable", func() error {
		return utils.TestWritableFile(root)
	})

	logger.Info().
		Str("storage_root", root).
		Str("staging_dir", stage.Dir()).
		Str("tus_base_path", tus.BasePath()).
		Str("max_upload_size", humanize.IBytes(uint64(opts.MaxUploadSize))).
		Str("copy_chunk_size", humanize.IBytes(uint64(opts.CopyChunkSize))).
		Dur("orphan_timeout", opts.OrphanTimeout).
		Bool("notifications", emitter.IsEnabled()).
		Msg("ZapDrop configuration")

	httpServer := startHTTPServer(reqctx.Middleware(mux), opts.BindAddr, opts.HTTPPort, opts.IdleTimeout)
	debugServer := startHTTPServer(debug.GetMux(), opts.BindAddr, opts.DebugPort, 0)

	debug.SetReady()

	waitForShutdown()

	debug.SetNotReady()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer shutdownCancel()

	// In-flight PATCH requests block until their completion is forwarded, so
	// the forwarder must outlive the HTTP server.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	cancel()
	<-runDone
	orphans.Stop()

	svc.Close()
	if err := svc.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("in_flight", len(svc.InFlight())).Msg("reconciliations still running at shutdown")
	}
	emitter.Close()
	debugServer.Shutdown(shutdownCtx)
}

func loadServeOpts(cmd *cobra.Command) (ServeOpts, error) {
	f := NewFlagLoader(cmd)

	opts := ServeOpts{
		BindAddr:                f.String("bind_addr"),
		HTTPPort:                f.Int("http_port"),
		DebugPort:               f.Int("debug_port"),
		IdleTimeout:             f.Duration("idle_timeout"),
		StorageRoot:             f.String("storage_root"),
		StagingDir:              f.String("staging_dir"),
		MinFreeSpace:            f.String("min_free_space"),
		TusBasePath:             f.String("tus_base_path"),
		RespectForwardedHeaders: f.Bool("respect_forwarded_headers"),
		StabilityInterval:       f.Duration("stability_interval"),
		StabilityChecks:         f.Int("stability_checks"),
		StabilityTimeout:        f.Duration("stability_timeout"),
		OrphanTimeout:           f.Duration("orphan_timeout"),
		ReaperInterval:          f.Duration("reaper_interval"),
		RedisAddr:               f.String("redis_addr"),
		RedisPassword:           f.String("redis_password"),
		RedisDB:                 f.Int("redis_db"),
		RedisChannel:            f.String("redis_channel"),
		KafkaBrokers:            f.StringSlice("kafka_brokers"),
		KafkaTopic:              f.String("kafka_topic"),
		KafkaTLS:                f.Bool("kafka_tls"),
		KafkaSASLMechanism:      f.String("kafka_sasl_mechanism"),
		KafkaSASLUsername:       f.String("kafka_sasl_username"),
		KafkaSASLPassword:       f.String("kafka_sasl_password"),
		LogLevel:                f.String("log_level"),
		LogFormat:               f.String("log_format"),
		ShutdownTimeout:         f.Duration("shutdown_timeout"),
	}

	var err error
	if opts.MaxUploadSize, err = f.Bytes("max_upload_size"); err != nil {
		return opts, err
	}
	if opts.CopyChunkSize, err = f.Bytes("copy_chunk_size"); err != nil {
		return opts, err
	}
	if opts.CopyChunkSize > 1<<30 {
		return opts, fmt.Errorf("copy_chunk_size: %s exceeds 1GiB", humanize.IBytes(uint64(opts.CopyChunkSize)))
	}
	if opts.StorageRoot == "" {
		return opts, errors.New("storage_root is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return opts, nil
}

// newEmitter builds the notification emitter from whichever of Redis and
// Kafka are configured. A publisher that cannot connect at startup is
// skipped with a warning.
func newEmitter(opts ServeOpts) *events.Emitter {
	var publishers []events.Publisher

	if opts.RedisAddr != "" {
		cfg := events.DefaultRedisConfig(opts.RedisAddr)
		cfg.Password = opts.RedisPassword
		cfg.DB = opts.RedisDB
		if opts.RedisChannel != "" {
			cfg.Channel = opts.RedisChannel
		}
		pub, err := events.NewRedisPublisher(cfg)
		if err != nil {
			logger.Warn().Err(err).Str("redis_addr", opts.RedisAddr).Msg("redis notifications disabled")
		} else {
			logger.Info().Str("redis_addr", opts.RedisAddr).Str("channel", cfg.Channel).Msg("publishing upload notifications to redis")
			publishers = append(publishers, pub)
		}
	}

	if len(opts.KafkaBrokers) > 0 {
		cfg := events.DefaultKafkaConfig(opts.KafkaBrokers)
		if opts.KafkaTopic != "" {
			cfg.Topic = opts.KafkaTopic
		}
		cfg.TLS = opts.KafkaTLS
		cfg.SASLMechanism = opts.KafkaSASLMechanism
		cfg.SASLUsername = opts.KafkaSASLUsername
		cfg.SASLPassword = opts.KafkaSASLPassword
		pub, err := events.NewKafkaPublisher(cfg)
		if err != nil {
			logger.Warn().Err(err).Strs("kafka_brokers", opts.KafkaBrokers).Msg("kafka notifications disabled")
		} else {
			publishers = append(publishers, pub)
		}
	}

	switch len(publishers) {
	case 0:
		return events.NoopEmitter()
	case 1:
		return events.NewEmitter(events.EmitterConfig{Publisher: publishers[0]})
	default:
		return events.NewEmitter(events.EmitterConfig{Publisher: events.NewMultiPublisher(publishers...)})
	}
}

func reportDataLoss(ctx context.Context, u ingest.CompletedUpload, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("upload_id", u.ID)
		scope.SetTag("filename", u.Metadata.Filename())
		scope.SetLevel(sentry.LevelError)
		sentry.CaptureException(err)
	})
}

func startHTTPServer(handler http.Handler, ip string, port int, idleTimeout time.Duration) *http.Server {
	listener, err := utils.NewListener(utils.JoinHostPort(ip, port), idleTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info().Str("http_addr", utils.JoinHostPort(ip, port)).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGALRM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
