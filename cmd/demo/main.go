// Command demo serves a few endpoints behind httplimit and exposes the
// limiter's Prometheus series on /metrics.
//
//	go run ./cmd/demo -config cmd/demo/config.yaml
//	for i in $(seq 1 8); do curl -si -X POST localhost:8080/api/login | head -1; done
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/KanavDutta/tokenbucket/pkg/tokenbucket"
	"github.com/KanavDutta/tokenbucket/pkg/tokenbucket/httplimit"
	"github.com/KanavDutta/tokenbucket/pkg/tokenbucket/metrics"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configFile := flag.String("config", "", "path to a YAML registry config (defaults if empty)")
	keySpec := flag.String("key", "ip-proxy", "key extractor: ip, ip-proxy, bearer, header:NAME, cookie:NAME, static:KEY")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	if err := run(*addr, *configFile, *keySpec, logger); err != nil {
		logger.Fatal().Err(err).Msg("demo server failed")
	}
}

func run(addr, configFile, keySpec string, logger zerolog.Logger) error {
	config := tokenbucket.NewRegistryConfig()
	if configFile != "" {
		var err error
		if config, err = tokenbucket.LoadConfigFromFile(configFile); err != nil {
			return err
		}
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder("demo")
	if err := recorder.Register(promRegistry); err != nil {
		return err
	}

	registry, err := tokenbucket.NewRegistry(config,
		tokenbucket.WithLogger(logger),
		tokenbucket.WithRecorder(recorder),
	)
	if err != nil {
		return err
	}

	extractor, err := httplimit.ParseKeyExtractor(keySpec)
	if err != nil {
		return err
	}
	limiter, err := httplimit.New(registry,
		httplimit.WithKeyExtractor(extractor),
		httplimit.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopCleanup := registry.StartBackgroundCleanup(ctx)
	defer stopCleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", reply("ok"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.Handle("GET /api/search", limiter.Middleware(reply("search results")))
	mux.Handle("POST /api/login", limiter.Middleware(reply("logged in")))
	mux.Handle("POST /api/create", limiter.Middleware(reply("created")))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Int("policies", len(config.Policies)).
			Msg("demo server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func reply(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message":   message,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}
