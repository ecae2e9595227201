// Command orion-edge runs one physical device's edge agent: a dead
// man's switch watchdog, sit-and-freeze safe state, and dual
// transports (the central Redis bus for commands, MQTT for telemetry
// and health), per SPEC_FULL.md §4.J.
//
// Grounded directly on the retrieved original ORION edge agent
// (cmd/orion-edge/main.go in the Mars375-orion reference): fail-fast
// MQTT connect, watchdog reset on connection-up, independent goroutines
// for command handling and heartbeat publishing.
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

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/orion-homelab/orion/internal/bus"
	"github.com/orion-homelab/orion/internal/config"
	"github.com/orion-homelab/orion/internal/contracts"
	"github.com/orion-homelab/orion/internal/edge"
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
	flag.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "health HTTP port")
	flag.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "this device's id (mandatory, no default)")
	flag.StringVar(&cfg.MQTTBrokerURL, "mqtt-broker-url", cfg.MQTTBrokerURL, "MQTT broker URL")
	flag.IntVar(&cfg.HeartbeatIntervalSeconds, "heartbeat-interval-seconds", cfg.HeartbeatIntervalSeconds, "health heartbeat interval")
	flag.IntVar(&cfg.WatchdogTimeoutSeconds, "watchdog-timeout-seconds", cfg.WatchdogTimeoutSeconds, "dead man's switch timeout")
	flag.Parse()

	if err := cfg.ValidateEdge(); err != nil {
		fmt.Fprintln(os.Stderr, "orion-edge: invalid configuration:", err)
		return exitConfigError
	}

	logger := logging.New("orion-edge-" + cfg.DeviceID)

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

	tp, err := telemetry.NewProvider(ctx, telemetry.Options{ServiceName: "orion-edge-" + cfg.DeviceID})
	if err != nil {
		logger.Error("failed to start telemetry provider", map[string]interface{}{"error": err.Error()})
		return exitConfigError
	}
	defer tp.Shutdown(context.Background())

	// agent is assigned below, before Connect is called, so the
	// connection callbacks (which only fire once connected) always see
	// a non-nil Agent.
	var agent *edge.Agent

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID("orion-edge-" + cfg.DeviceID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			agent.OnTransportDown("mqtt", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			agent.OnTransportUp("mqtt")
		})

	mqttClient := mqtt.NewClient(mqttOpts)

	agent = edge.New(edge.Config{
		DeviceID:        cfg.DeviceID,
		WatchdogTimeout: cfg.WatchdogTimeout(),
		Bus:             b,
		MQTT:            mqttClient,
		Logger:          logger,
	})
	defer agent.Stop()

	token := mqttClient.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		logger.Error("failed to connect to MQTT broker", map[string]interface{}{"error": err.Error(), "broker": cfg.MQTTBrokerURL})
		return exitConfigError
	}
	defer mqttClient.Disconnect(250)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := agent.RunCommandSubscriber(ctx, "edge", cfg.DeviceID); err != nil {
			logger.Error("command subscriber stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	if err := agent.RunMQTTCommandMirror(); err != nil {
		logger.Error("failed to subscribe to mirrored MQTT commands", map[string]interface{}{"error": err.Error()})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		agent.RunHeartbeat(ctx, cfg.HeartbeatInterval(), func(ctx context.Context) error {
			return b.Client().Ping(ctx).Err()
		})
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(agent.Snapshot())
	})
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: telemetry.InstrumentHandler(mux, "orion-edge-"+cfg.DeviceID)}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("orion-edge started", map[string]interface{}{
		"device_id": cfg.DeviceID, "watchdog_timeout_seconds": cfg.WatchdogTimeoutSeconds,
	})

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
