// Command orion-inference-worker runs one inference node: it serves
// chat completions against a local Ollama-compatible runtime and
// self-reports health into the shared registry, per SPEC_FULL.md §4.K.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/orion-homelab/orion/internal/bus"
	"github.com/orion-homelab/orion/internal/config"
	"github.com/orion-homelab/orion/internal/contracts"
	"github.com/orion-homelab/orion/internal/inference"
	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/messages"
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
	flag.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "health HTTP port")
	flag.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "this node's id (mandatory, no default)")
	flag.StringVar(&cfg.RuntimeBaseURL, "runtime-base-url", cfg.RuntimeBaseURL, "local inference runtime base URL")
	flag.Parse()

	if err := cfg.ValidateInferenceWorker(); err != nil {
		fmt.Fprintln(os.Stderr, "orion-inference-worker: invalid configuration:", err)
		return exitConfigError
	}

	logger := logging.New("orion-inference-worker-" + cfg.NodeID)

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

	tp, err := telemetry.NewProvider(ctx, telemetry.Options{ServiceName: "orion-inference-worker-" + cfg.NodeID})
	if err != nil {
		logger.Error("failed to start telemetry provider", map[string]interface{}{"error": err.Error()})
		return exitConfigError
	}
	defer tp.Shutdown(context.Background())

	registry := inference.NewRegistry(b.Client(), inference.Thresholds{}, logger)
	runtimeClient := &inference.HTTPRuntime{BaseURL: cfg.RuntimeBaseURL, Client: &http.Client{Timeout: 60 * time.Second}}
	worker := inference.NewWorker(cfg.NodeID, b, runtimeClient, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx, "inference-worker-"+cfg.NodeID, "worker-1"); err != nil {
			logger.Error("worker stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		publishHealth(ctx, registry, cfg.NodeID, logger)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "service": "orion-inference-worker", "node_id": cfg.NodeID})
	})
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: telemetry.InstrumentHandler(mux, "orion-inference-worker-"+cfg.NodeID)}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("orion-inference-worker started", map[string]interface{}{"node_id": cfg.NodeID, "runtime_base_url": cfg.RuntimeBaseURL})

	<-ctx.Done()

	if err := registry.Remove(context.Background(), cfg.NodeID); err != nil {
		logger.Warn("failed to remove node from registry on shutdown", map[string]interface{}{"error": err.Error()})
	}

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

// publishHealth reports this node's health every 10s until ctx is
// cancelled. CPU/RAM/temperature sampling is host-specific; absent a
// system-stats library in the teacher's or pack's dependency set, this
// uses runtime.MemStats as a process-level proxy rather than true host
// telemetry (see DESIGN.md).
func publishHealth(ctx context.Context, registry *inference.Registry, nodeID string, logger logging.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	publishOnce := func() {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		ramUsedMB := int64(mem.Sys / (1024 * 1024))

		health := messages.NodeHealth{
			NodeID:      nodeID,
			CPUPercent:  0,
			RAMPercent:  0,
			RAMUsedMB:   ramUsedMB,
			RAMTotalMB:  ramUsedMB,
			TempCelsius: 0,
			Models:      []string{},
			Available:   true,
			LastSeen:    time.Now().UTC(),
		}
		if err := registry.Publish(ctx, health); err != nil {
			logger.Warn("failed to publish node health", map[string]interface{}{"error": err.Error()})
		}
	}

	publishOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publishOnce()
		}
	}
}
