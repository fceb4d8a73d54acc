package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/registry"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	addr := flag.String("addr", envOr("INFERD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	modelsDir := flag.String("models-dir", envOr("INFERD_MODELS_DIR", "~/models/llm"), "Directory to scan for *.gguf model files")
	configPath := flag.String("config", envOr("INFERD_CONFIG", ""), "Optional config file (.yaml/.json/.toml)")
	maxSessions := flag.Int("max-sessions", 0, "Maximum concurrent sessions (0=default)")
	logLevel := flag.String("log-level", envOr("INFERD_LOG_LEVEL", ""), "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: console or json")
	flag.Parse()

	var fileCfg config.Config
	if *configPath != "" {
		var err error
		fileCfg, err = config.Load(*configPath)
		if err != nil {
			errLog := zerolog.New(os.Stderr)
			errLog.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
	}
	// Flags override file values; file values override built-in defaults.
	if fileCfg.Addr != "" && !flagSet("addr") {
		*addr = fileCfg.Addr
	}
	if fileCfg.ModelsDir != "" && !flagSet("models-dir") {
		*modelsDir = fileCfg.ModelsDir
	}
	if *maxSessions == 0 {
		*maxSessions = fileCfg.MaxSessions
	}
	if *logLevel == "" {
		*logLevel = fileCfg.LogLevel
	}
	if *logFormat == "" {
		*logFormat = fileCfg.LogFormat
	}

	log := buildLogger(*logLevel, *logFormat)

	dir := registry.ExpandHome(*modelsDir)
	if !registry.PathExists(dir) {
		log.Fatal().Str("dir", dir).Msg("models directory does not exist")
	}
	reg, err := registry.LoadDir(dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("failed to load models")
	}
	log.Info().Int("models", len(reg)).Str("dir", dir).Msg("model registry loaded")

	mgr := manager.New(manager.Config{
		Registry:      reg,
		Factory:       backend.NewLlama,
		Logger:        log,
		Generation:    fileCfg.Generation,
		MaxSessions:   *maxSessions,
		MaxQueueDepth: fileCfg.MaxQueueDepth,
		MaxWait:       time.Duration(fileCfg.MaxWaitSeconds) * time.Second,
		DrainTimeout:  time.Duration(fileCfg.DrainTimeoutSecs) * time.Second,
	})

	// Base context canceled on shutdown so in-flight generations stop.
	baseCtx, cancelBase := context.WithCancel(context.Background())

	opts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithBaseContext(baseCtx),
	}
	if fileCfg.CORSEnabled {
		opts = append(opts, httpapi.WithCORS(fileCfg.CORSAllowedOrigins))
	}
	srv := &http.Server{Addr: *addr, Handler: httpapi.NewMux(mgr, opts...)}
	go func() {
		log.Info().Str("addr", *addr).Str("version", mgr.Version()).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	mgr.Shutdown()
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func buildLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var w = os.Stderr
	if format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
