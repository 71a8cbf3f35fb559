// Command echo-server is the dialogue server of the Echo voice pipeline.
//
// It accepts one recorded utterance per POST /interact, transcribes it,
// continues the caller's conversation with an LLM and answers with the reply
// text. GET / reports liveness.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/echo/internal/config"
	"github.com/MrWong99/echo/internal/dialogue"
	"github.com/MrWong99/echo/internal/health"
	"github.com/MrWong99/echo/internal/httpapi"
	"github.com/MrWong99/echo/internal/observe"
	"github.com/MrWong99/echo/internal/providers"
	"github.com/MrWong99/echo/internal/session"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echo-server: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("echo-server starting",
		"version", version,
		"config", *configPath,
		"from_file", fromFile,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "echo-server",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg)

	sttProvider, err := providers.BuildSTT(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	llmProvider, err := providers.BuildLLM(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}

	// ── Session store ─────────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg.Sessions)
	if err != nil {
		slog.Error("failed to open session store", "backend", cfg.Sessions.Backend, "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("session store close error", "err", err)
		}
	}()

	// ── Dialogue service and routes ───────────────────────────────────────────
	svc := dialogue.New(dialogueConfig(cfg), sttProvider, llmProvider, store, dialogue.WithMetrics(metrics))

	mux := http.NewServeMux()
	health.New(health.Checker{Name: "sessions", Check: store.Ping}).Register(mux)
	httpapi.New(svc, httpapi.WithMaxUploadBytes(cfg.Server.MaxUploadBytes)).Register(mux)
	mux.Handle("GET /metrics", tel.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if fromFile {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), new, &level, svc)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
			go reloadOnHangup(ctx, w)
		}
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server ready, press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file is not an error: the built-in
// defaults are used with environment overrides applied.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg = config.Default()
	config.ApplyEnv(cfg, os.LookupEnv)
	if err := config.Validate(cfg); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func openStore(ctx context.Context, c config.SessionsConfig) (session.Store, error) {
	switch c.Backend {
	case config.SessionPostgres:
		return session.NewPostgresStore(ctx, c.PostgresDSN)
	case config.SessionRedis:
		return session.DialRedis(ctx, c.RedisURL,
			session.WithKeyPrefix(c.RedisKeyPrefix),
			session.WithTTL(c.RedisTTL))
	case config.SessionMemory:
		return session.NewMemoryStore(), nil
	default:
		return session.NewFileStore(c.Dir)
	}
}

func dialogueConfig(cfg *config.Config) dialogue.Config {
	d := cfg.Dialogue
	return dialogue.Config{
		SystemPrompt: d.SystemPrompt,
		Language:     d.Language,
		Temperature:  d.Temperature,
		MaxTokens:    d.MaxTokens,
		ScratchDir:   d.ScratchDir,
		STTName:      cfg.Providers.STT.Name,
		LLMName:      cfg.Providers.LLM.Name,
	}
}

// applyReload applies the hot-reloadable parts of a config change and logs
// the rest.
func applyReload(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, svc *dialogue.Service) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DialogueChanged {
		svc.Reconfigure(dialogueConfig(cfg))
		slog.Info("dialogue settings reloaded")
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config section changed, restart required to apply", "section", section)
	}
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			applied, err := w.Reload()
			switch {
			case err != nil:
				slog.Warn("SIGHUP reload failed, keeping previous config", "err", err)
			case !applied:
				slog.Info("SIGHUP reload: config unchanged")
			}
		}
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Echo server, startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("Sessions", string(cfg.Sessions.Backend))
	printRow("Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	label := e.Name
	if e.Model != "" {
		label += " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		label += fmt.Sprintf(" +%d", n)
	}
	return label
}

func printRow(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}
