// Command duraflowd runs the durable workflow orchestrator as an HTTP
// service backed by a configurable store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/duraflow/config"
	"github.com/dshills/duraflow/flow"
	"github.com/dshills/duraflow/flow/emit"
	"github.com/dshills/duraflow/flow/fn"
	"github.com/dshills/duraflow/flow/model"
	"github.com/dshills/duraflow/flow/store"
	"github.com/dshills/duraflow/httpapi"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	tracing := flag.Bool("tracing", false, "emit engine events as OpenTelemetry spans")
	flag.Parse()

	if err := run(*configPath, *tracing); err != nil {
		fmt.Fprintln(os.Stderr, "duraflowd:", err)
		os.Exit(1)
	}
}

func run(configPath string, tracing bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	st, cleanup, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer cleanup()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store opened")

	registry := flow.NewRegistry()
	if err := fn.RegisterBuiltins(registry); err != nil {
		return err
	}
	if err := registerModels(registry, cfg.Models, logger); err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := flow.NewMetrics(promRegistry)

	var emitter emit.Emitter = emit.NewLogEmitter(logger)
	if tracing {
		tp := sdktrace.NewTracerProvider()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("tracer provider shutdown failed")
			}
		}()
		otel.SetTracerProvider(tp)
		emitter = emit.NewOTelEmitter(tp.Tracer("duraflow"))
	}

	engine := flow.New(st, registry, emitter, flow.Options{
		MaxSteps: cfg.Engine.MaxSteps,
		Logger:   &logger,
		Metrics:  metrics,
	})

	if cfg.Log.Format == "json" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := httpapi.New(engine, logger, promRegistry)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

func openStore(cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemStore(), func() {}, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "mysql":
		s, err := store.NewMySQLStore(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := store.NewPostgresStore(context.Background(), cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// registerModels wires an llm_<provider> node function for each provider
// with a configured key. Providers without keys are skipped, not errors, so
// a deployment that never touches LLM nodes needs no credentials.
func registerModels(reg *flow.Registry, cfg config.ModelsConfig, logger zerolog.Logger) error {
	if cfg.AnthropicAPIKey != "" {
		m, err := model.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if err != nil {
			return err
		}
		if err := reg.Register("llm_anthropic", fn.Generate(m)); err != nil {
			return err
		}
		logger.Info().Str("model", m.Name()).Msg("registered llm_anthropic")
	}
	if cfg.OpenAIAPIKey != "" {
		m, err := model.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return err
		}
		if err := reg.Register("llm_openai", fn.Generate(m)); err != nil {
			return err
		}
		logger.Info().Str("model", m.Name()).Msg("registered llm_openai")
	}
	if cfg.GoogleAPIKey != "" {
		m, err := model.NewGoogle(context.Background(), cfg.GoogleAPIKey, cfg.GoogleModel)
		if err != nil {
			return err
		}
		if err := reg.Register("llm_google", fn.Generate(m)); err != nil {
			return err
		}
		logger.Info().Str("model", m.Name()).Msg("registered llm_google")
	}
	return nil
}
