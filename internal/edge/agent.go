package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/orion-homelab/orion/internal/bus"
	"github.com/orion-homelab/orion/internal/envelope"
	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/messages"
)

// Agent wires the DeadManSwitch and SafeStateManager to the two
// independent transports named in SPEC_FULL.md §4.J: the central bus
// for command streams, and MQTT for telemetry/health, so that the
// loss of either one alone suffices to trip the shared watchdog.
type Agent struct {
	DeviceID string

	watchdog  *DeadManSwitch
	safeState *SafeStateManager

	bus  *bus.Bus
	mqtt mqtt.Client

	logger logging.Logger
	now    func() time.Time

	startedAt time.Time

	mu             sync.Mutex
	mqttConnected  bool
	redisErrs      []string
}

// Config configures an Agent.
type Config struct {
	DeviceID         string
	WatchdogTimeout  time.Duration // default 5s
	Bus              *bus.Bus
	MQTT             mqtt.Client
	Logger           logging.Logger
}

// New creates an Agent. The watchdog starts immediately; callers begin
// command handling and heartbeat publishing by calling
// RunCommandSubscriber, RunMQTTCommandMirror and RunHeartbeat.
func New(cfg Config) *Agent {
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("orion-edge-" + cfg.DeviceID)
	}

	a := &Agent{
		DeviceID:  cfg.DeviceID,
		bus:       cfg.Bus,
		mqtt:      cfg.MQTT,
		logger:    cfg.Logger,
		now:       time.Now,
		startedAt: time.Now(),
	}
	a.safeState = NewSafeStateManager(
		func() { a.logger.Warn("sit and freeze: holding position", map[string]interface{}{"device_id": a.DeviceID}) },
		func() { a.logger.Info("resuming normal operation", map[string]interface{}{"device_id": a.DeviceID}) },
		cfg.Logger,
	)
	a.watchdog = NewDeadManSwitch(cfg.WatchdogTimeout, func() {
		a.safeState.EnterSafeMode()
	}, cfg.Logger)

	return a
}

// Stop halts the watchdog's monitoring goroutine.
func (a *Agent) Stop() {
	a.watchdog.Stop()
}

// OnTransportUp resets the watchdog on a successful (re)connection to
// either transport, without clearing any sticky triggered state —
// only an explicit RESUME command does that.
func (a *Agent) OnTransportUp(transport string) {
	a.logger.Info("transport connected", map[string]interface{}{"transport": transport})
	a.watchdog.Reset()
}

// OnTransportDown logs a transport loss. The watchdog timer continues
// running unattended; it alone decides whether to trip safe mode.
func (a *Agent) OnTransportDown(transport string, err error) {
	a.logger.Warn("transport lost, watchdog active", map[string]interface{}{
		"transport": transport, "error": err.Error(),
	})
}

// HandleCommand dispatches one EdgeCommand. Any valid command resets
// the watchdog. MOVE and CALIBRATE are rejected while in safe mode;
// STOP, STATUS, and RESUME are always accepted. RESUME is the only
// command that clears the triggered watchdog and exits safe mode, in
// that order.
func (a *Agent) HandleCommand(cmd messages.EdgeCommand) {
	a.watchdog.Reset()

	if !messages.AllowedInSafeMode(cmd.CommandType) && a.safeState.IsInSafeMode() {
		a.logger.Warn("command rejected, device in safe mode", map[string]interface{}{
			"command_type": cmd.CommandType, "command_id": cmd.CommandID,
		})
		return
	}

	switch cmd.CommandType {
	case messages.CommandResume:
		if !a.safeState.IsInSafeMode() {
			a.logger.Info("RESUME ignored, not in safe mode", map[string]interface{}{})
			return
		}
		a.watchdog.ClearTriggered()
		if err := a.safeState.ExitSafeMode(); err != nil {
			a.logger.Error("failed to exit safe mode", map[string]interface{}{"error": err.Error()})
		}
	case messages.CommandStop:
		a.logger.Info("STOP received", map[string]interface{}{"command_id": cmd.CommandID})
	case messages.CommandMove:
		a.logger.Info("MOVE received", map[string]interface{}{"command_id": cmd.CommandID, "parameters": cmd.Parameters})
	case messages.CommandCalibrate:
		a.logger.Info("CALIBRATE received", map[string]interface{}{"command_id": cmd.CommandID})
	case messages.CommandStatus:
		a.logger.Debug("STATUS received, reporting via next heartbeat", map[string]interface{}{})
	default:
		a.logger.Warn("unknown command type", map[string]interface{}{"command_type": cmd.CommandType})
	}
}

// RunCommandSubscriber subscribes to this device's command stream on
// the central bus until ctx is cancelled.
func (a *Agent) RunCommandSubscriber(ctx context.Context, group, consumer string) error {
	return a.bus.Subscribe(ctx, messages.TypeEdgeCommand, group, consumer, func(ctx context.Context, raw []byte) error {
		var cmd messages.EdgeCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			a.logger.Error("failed to parse edge command", map[string]interface{}{"error": err.Error()})
			return nil
		}
		a.HandleCommand(cmd)
		return nil
	}, a.bus.StreamName("edge:"+a.DeviceID+":commands"))
}

// RunMQTTCommandMirror subscribes to the mirrored MQTT command topic
// for this device and feeds the same HandleCommand path. Subscribed at
// QoS 2, the ceiling named in SPEC_FULL.md §4.J's transport table
// (1 for movement commands, 2 for emergency STOP): MQTT delivers each
// message at min(publisher QoS, subscriber QoS), so subscribing at the
// highest QoS any command type needs lets STOP arrive exactly once
// while lower-QoS command types still arrive at
// whatever QoS they were published with.
func (a *Agent) RunMQTTCommandMirror() error {
	topic := fmt.Sprintf("orion/edge/%s/cmd/#", a.DeviceID)
	token := a.mqtt.Subscribe(topic, 2, func(client mqtt.Client, msg mqtt.Message) {
		a.watchdog.Reset()
		var cmd messages.EdgeCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			a.logger.Error("failed to parse mirrored command", map[string]interface{}{"error": err.Error()})
			return
		}
		a.HandleCommand(cmd)
	})
	token.Wait()
	return token.Error()
}

// PublishTelemetry publishes one EdgeTelemetry reading to MQTT at QoS
// 0 (high frequency, best effort).
func (a *Agent) PublishTelemetry(t messages.EdgeTelemetry) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("orion/edge/%s/telemetry", a.DeviceID)
	token := a.mqtt.Publish(topic, 0, false, raw)
	token.Wait()
	return token.Error()
}

// RunHeartbeat publishes an EdgeHealth message every interval at QoS 1
// (must be delivered for watchdog semantics on the brain side) until
// ctx is cancelled. Receipt of a brain-originated heartbeat ack is out
// of this agent's scope; publishing itself does not reset this
// device's own watchdog (only transport connect/command receipt does).
func (a *Agent) RunHeartbeat(ctx context.Context, interval time.Duration, redisPing func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health := a.buildHealth(ctx, redisPing)
			raw, err := json.Marshal(health)
			if err != nil {
				a.logger.Error("failed to marshal health", map[string]interface{}{"error": err.Error()})
				continue
			}
			topic := fmt.Sprintf("orion/edge/%s/health", a.DeviceID)
			token := a.mqtt.Publish(topic, 1, false, raw)
			token.Wait()
			if err := token.Error(); err != nil {
				a.logger.Warn("failed to publish health heartbeat", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (a *Agent) buildHealth(ctx context.Context, redisPing func(context.Context) error) messages.EdgeHealth {
	now := a.now().UTC()

	mqttConnected := a.mqtt.IsConnected()
	redisConnected := true
	if redisPing != nil {
		if err := redisPing(ctx); err != nil {
			redisConnected = false
		}
	}

	state := messages.StateRunning
	if a.safeState.IsInSafeMode() {
		state = messages.StateSafeMode
	} else if !mqttConnected || !redisConnected {
		state = messages.StateError
	}

	var errs []string
	if !mqttConnected {
		errs = append(errs, "mqtt_disconnected")
	}
	if !redisConnected {
		errs = append(errs, "redis_disconnected")
	}
	if a.watchdog.IsTriggered() {
		errs = append(errs, "watchdog_triggered")
	}

	return messages.EdgeHealth{
		Envelope:     envelope.New(fmt.Sprintf("orion-edge-%s", a.DeviceID)),
		HealthID:     uuid.New().String(),
		DeviceID:     a.DeviceID,
		State:        state,
		UptimeSeconds: int64(now.Sub(a.startedAt).Seconds()),
		ConnectionStatus: messages.EdgeConnectionStatus{
			MQTTConnected:    mqttConnected,
			RedisConnected:   redisConnected,
			LastBrainContact: now,
		},
		Safety: messages.EdgeSafety{
			DeadManSwitchActive: a.watchdog.IsTriggered(),
			WatchdogRemainingMs: a.watchdog.RemainingMs(),
			InSafePosition:      a.safeState.IsInSafeMode(),
		},
		Errors: errs,
	}
}

// HealthSnapshot is the shape returned by the /health HTTP endpoint.
type HealthSnapshot struct {
	Status            string `json:"status"`
	Service           string `json:"service"`
	DeviceID          string `json:"device_id"`
	MQTTConnected     bool   `json:"mqtt_connected"`
	SafeMode          bool   `json:"safe_mode"`
	WatchdogTriggered bool   `json:"watchdog_triggered"`
}

// Snapshot returns the current /health payload.
func (a *Agent) Snapshot() HealthSnapshot {
	return HealthSnapshot{
		Status:            "ok",
		Service:           "orion-edge",
		DeviceID:          a.DeviceID,
		MQTTConnected:     a.mqtt.IsConnected(),
		SafeMode:          a.safeState.IsInSafeMode(),
		WatchdogTriggered: a.watchdog.IsTriggered(),
	}
}
