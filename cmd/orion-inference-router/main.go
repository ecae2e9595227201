// Command orion-inference-router dispatches inference requests to
// the least-loaded available worker node, sticky on model name, per
// SPEC_FULL.md §4.K.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/orion-homelab/orion/internal/bus"
	"github.com/orion-homelab/orion/internal/config"
	"github.com/orion-homelab/orion/internal/contracts"
	"github.com/orion-homelab/orion/internal/inference"
	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/telemetry"
)

const exitConfigError = 1
const exitRuntimeError = 2

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	cfg.LoadFromEnv()

	flag.StringVar(&cfg.BusURL, "bus-url", cfg.BusURL, "Redis bus URL")
	flag.StringVar(&cfg.ContractsDir, "contracts-dir", cfg.ContractsDir, "JSON Schema contracts directory")
	flag.StringVar(&cfg.StreamPrefix, "stream-prefix", cfg.StreamPrefix, "bus stream name prefix")
	flag.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "stats HTTP port")
	flag.Parse()

	if err := cfg.ValidateInferenceRouter(); err != nil {
		fmt.Fprintln(os.Stderr, "orion-inference-router: invalid configuration:", err)
		return exitConfigError
	}

	logger := logging.New("orion-inference-router")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	var sigintReceived bool
	go func() {
		sig := <-sigCh
		sigintReceived = sig == os.Interrupt
		cancel()
	}()

	validator, err := contracts.LoadDir(cfg.ContractsDir)
	if err != nil {
		logger.Error("failed to load contracts", map[string]interface{}{"error": err.Error()})
		return exitConfigError
	}

	b, err := bus.New(ctx, bus.Options{
		RedisURL:  cfg.BusURL,
		Prefix:    cfg.StreamPrefix,
		Validator: validator,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to connect to bus", map[string]interface{}{"error": err.Error()})
		return exitConfigError
	}
	defer b.Close()

	tp, err := telemetry.NewProvider(ctx, telemetry.Options{ServiceName: "orion-inference-router"})
	if err != nil {
		logger.Error("failed to start telemetry provider", map[string]interface{}{"error": err.Error()})
		return exitConfigError
	}
	defer tp.Shutdown(context.Background())

	registry := inference.NewRegistry(b.Client(), inference.Thresholds{}, logger)
	router := inference.NewRouter(b, registry, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := router.Run(ctx, "inference-router", "router-1"); err != nil {
			logger.Error("router stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "service": "orion-inference-router"})
	})
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(router.Nodes())
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(router.Stats())
	})
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: telemetry.InstrumentHandler(mux, "orion-inference-router")}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("orion-inference-router started", map[string]interface{}{"http_port": cfg.HTTPPort})

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancelShutdown()
	httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for background loops", nil)
		return exitRuntimeError
	}

	if sigintReceived {
		return 130
	}
	return 0
}
