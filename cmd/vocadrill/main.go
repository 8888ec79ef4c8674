// Command vocadrill is the dictation-drill server: it segments a learner's
// dictated utterance into per-word answers, judges them, and keeps the error
// log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vocadrill/vocadrill/internal/chain"
	"github.com/vocadrill/vocadrill/internal/config"
	"github.com/vocadrill/vocadrill/internal/errlog"
	"github.com/vocadrill/vocadrill/internal/judge"
	"github.com/vocadrill/vocadrill/internal/observe"
	"github.com/vocadrill/vocadrill/internal/segment"
	"github.com/vocadrill/vocadrill/internal/server"
	"github.com/vocadrill/vocadrill/internal/session"
	"github.com/vocadrill/vocadrill/pkg/provider/llm"
	"github.com/vocadrill/vocadrill/pkg/provider/llm/anyllm"
	"github.com/vocadrill/vocadrill/pkg/provider/llm/openai"
	"github.com/vocadrill/vocadrill/pkg/provider/restmatch"
	"github.com/vocadrill/vocadrill/pkg/provider/stt/whisperhttp"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocadrill: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocadrill: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vocadrill starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// LLM backends.
	primary, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build llm backend", "err", err)
		return 1
	}
	var fallback llm.Provider
	if cfg.Providers.LLMFallback.Name != "" {
		fallback, err = buildLLM(cfg.Providers.LLMFallback)
		if err != nil {
			slog.Error("failed to build fallback llm backend", "err", err)
			return 1
		}
	}

	// Session store.
	var sessions session.Store
	if cfg.Storage.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.Storage.RedisURL)
		if err != nil {
			slog.Error("failed to connect session store", "err", err)
			return 1
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		slog.Warn("storage.redis_url is empty; session state is in-memory and lost on restart")
		sessions = session.NewMemoryStore()
	}

	// Error log.
	var errStore errlog.Store
	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect error-log database", "err", err)
			return 1
		}
		defer pool.Close()
		pg := errlog.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate error-log schema", "err", err)
			return 1
		}
		errStore = pg
	} else {
		slog.Warn("storage.postgres_dsn is empty; error log is in-memory and lost on restart")
		errStore = errlog.NewMemoryStore()
	}
	errWriter := errlog.NewWriter(errStore, 0)

	// Judge.
	judgeOpts := []judge.Option{
		judge.WithErrorLog(errWriter),
		judge.WithMetrics(metrics),
		judge.WithTimeout(config.Duration(cfg.Pipeline.JudgeTimeoutMS)),
	}
	if fallback != nil {
		judgeOpts = append(judgeOpts, judge.WithFallbackProvider(fallback))
	}
	jdg := judge.New(primary, judgeOpts...)

	// Segmentation chain factory: one chain per learner session.
	rules := segment.NewRuleTable(correctionRules(cfg.Rules))
	var matcher restmatch.Matcher
	if cfg.Providers.Matcher.Endpoint != "" {
		var mopts []restmatch.Option
		if cfg.Providers.Matcher.APIKey != "" {
			mopts = append(mopts, restmatch.WithAPIKey(cfg.Providers.Matcher.APIKey))
		}
		matcher, err = restmatch.New(cfg.Providers.Matcher.Endpoint, mopts...)
		if err != nil {
			slog.Error("failed to build matcher client", "err", err)
			return 1
		}
	}
	newOrch := func() *chain.Orchestrator {
		opts := []chain.Option{
			chain.WithRules(rules),
			chain.WithMetrics(metrics),
			chain.WithPreCorrection(cfg.Pipeline.PreCorrection),
			chain.WithTimeouts(chain.Timeouts{
				PreCorrect:   config.Duration(cfg.Pipeline.PreCorrectTimeoutMS),
				Combined:     config.Duration(cfg.Pipeline.CombinedTimeoutMS),
				SegmentOnly:  config.Duration(cfg.Pipeline.SegmentOnlyTimeoutMS),
				RESTFallback: config.Duration(cfg.Pipeline.RESTTimeoutMS),
			}),
		}
		if cfg.Pipeline.CacheCapacity > 0 {
			opts = append(opts, chain.WithCacheCapacity(cfg.Pipeline.CacheCapacity))
		}
		if fallback != nil {
			opts = append(opts, chain.WithFallbackProvider(fallback))
		}
		if matcher != nil {
			opts = append(opts, chain.WithMatcher(matcher))
		}
		return chain.New(primary, opts...)
	}

	// HTTP server.
	srvOpts := []server.Option{
		server.WithAddr(cfg.Server.ListenAddr),
		server.WithErrorStore(errStore),
		server.WithMetrics(metrics),
		server.WithAutoSubmitDelay(config.Duration(cfg.Pipeline.AutoSubmitDelayMS)),
	}
	if cfg.Server.TLS != nil {
		srvOpts = append(srvOpts, server.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile))
	}
	if cfg.Providers.STT.BaseURL != "" {
		var sttOpts []whisperhttp.Option
		if cfg.Providers.STT.Language != "" {
			sttOpts = append(sttOpts, whisperhttp.WithLanguage(cfg.Providers.STT.Language))
		}
		sttClient, err := whisperhttp.New(cfg.Providers.STT.BaseURL, sttOpts...)
		if err != nil {
			slog.Error("failed to build stt client", "err", err)
			return 1
		}
		srvOpts = append(srvOpts, server.WithSTT(sttClient))
	}
	srv := server.New(sessions, jdg, newOrch, srvOpts...)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := errWriter.Close(shutdownCtx); err != nil {
		slog.Warn("error-log writer close error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// buildLLM constructs one model backend from its config entry. The "openai"
// backend uses the native SDK; everything else goes through any-llm.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "openai" && entry.BaseURL == "" {
		return openai.New(entry.APIKey, entry.Model)
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func correctionRules(rules []config.RuleConfig) []segment.Rule {
	out := make([]segment.Rule, len(rules))
	for i, r := range rules {
		out[i] = segment.Rule{Pattern: r.Pattern, Replacement: r.Replacement}
	}
	return out
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
