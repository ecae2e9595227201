// Package correlator groups Events into Incidents per SPEC_FULL.md
// §4.D: a bounded FIFO buffer, a fingerprint derived from incident
// type plus a normalized detail, and a background sweep that closes
// incidents whose correlation window has expired.
//
// Grounded on the teacher's orchestration.SimpleCache / pkg/routing.Cache
// hashPrompt (sha256, truncated to 16 hex chars) for fingerprinting, and
// on pkg/discovery.RedisDiscovery's background-refresh goroutine for the
// periodic sweep shape.
package correlator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orion-homelab/orion/internal/envelope"
	"github.com/orion-homelab/orion/internal/logging"
	"github.com/orion-homelab/orion/internal/messages"
)

// EventBufferCapacity bounds the FIFO event buffer: once full, the
// oldest event is evicted to admit the newest.
const EventBufferCapacity = 100

// Fingerprint derives a stable 16-hex-char identity for an incident
// from its type and a normalized detail string, so repeated events of
// the same kind correlate into one incident rather than many.
func Fingerprint(incidentType, detail string) string {
	h := sha256.New()
	h.Write([]byte(incidentType))
	h.Write([]byte{0})
	h.Write([]byte(detail))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// openIncident tracks one in-progress incident: its current window end
// and the event ids folded into it so far.
type openIncident struct {
	incident messages.Incident
	windowEnd time.Time
}

// Correlator buffers events and folds related ones into a single
// Incident, emitting the Incident once via Publish when it is first
// opened or whenever it absorbs a new event.
type Correlator struct {
	mu sync.Mutex

	windowDuration time.Duration
	maxWindow      time.Duration
	buffer         []messages.Event
	open           map[string]*openIncident // keyed by fingerprint

	logger  logging.Logger
	now     func() time.Time
	publish func(ctx context.Context, incident messages.Incident) error
}

// Options configures a Correlator.
type Options struct {
	WindowDuration time.Duration // correlation window, default 60s
	// MaxWindow bounds how far a trickle of same-fingerprint events can
	// push CorrelationWindow.End past the incident's Start. Defaults to
	// WindowDuration (today's behavior is just the zero-trickle case of
	// this cap) when unset.
	MaxWindow time.Duration
	Logger    logging.Logger
	Publish   func(ctx context.Context, incident messages.Incident) error
}

// New creates a Correlator ready to accept events.
func New(opts Options) *Correlator {
	if opts.WindowDuration <= 0 {
		opts.WindowDuration = 60 * time.Second
	}
	if opts.MaxWindow <= 0 {
		opts.MaxWindow = opts.WindowDuration
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("orion-correlator")
	}
	return &Correlator{
		windowDuration: opts.WindowDuration,
		maxWindow:      opts.MaxWindow,
		open:           make(map[string]*openIncident),
		logger:         opts.Logger,
		now:            time.Now,
		publish:        opts.Publish,
	}
}

// classify maps an event to an incident type and a detail string used
// for fingerprinting. Events outside the recognized taxonomy fall back
// to a generic "unclassified" incident type keyed by event type, so no
// event is ever silently dropped by the correlator.
func classify(ev messages.Event) (incidentType, detail string) {
	if it, ok := ev.Data["incident_type"].(string); ok && it != "" {
		d, _ := ev.Data["detail"].(string)
		return it, d
	}
	return "unclassified:" + ev.EventType, ev.EventType
}

// Ingest admits one event into the bounded buffer, evicting the oldest
// entry if the buffer is already at EventBufferCapacity, then folds it
// into an open incident (creating one if none matches the event's
// fingerprint and window) and invokes Publish with the updated
// incident.
func (c *Correlator) Ingest(ctx context.Context, ev messages.Event) error {
	c.mu.Lock()

	if len(c.buffer) >= EventBufferCapacity {
		c.buffer = c.buffer[1:]
	}
	c.buffer = append(c.buffer, ev)

	incidentType, detail := classify(ev)
	fp := Fingerprint(incidentType, detail)

	now := c.now()
	oi, exists := c.open[fp]
	if !exists || now.After(oi.windowEnd) {
		oi = &openIncident{
			incident: messages.Incident{
				Envelope:    envelope.New("orion-correlator"),
				IncidentID:  uuid.New().String(),
				IncidentType: incidentType,
				Severity:    ev.Severity,
				CorrelationWindow: messages.CorrelationWindow{
					Start: now,
					End:   now.Add(c.windowDuration),
				},
				EventIDs:    nil,
				Fingerprint: fp,
			},
			windowEnd: now.Add(c.windowDuration),
		}
		c.open[fp] = oi
	}

	oi.incident.EventIDs = append(oi.incident.EventIDs, ev.EventID)
	end := now.Add(c.windowDuration)
	if maxEnd := oi.incident.CorrelationWindow.Start.Add(c.maxWindow); end.After(maxEnd) {
		end = maxEnd
	}
	oi.incident.CorrelationWindow.End = end
	oi.windowEnd = end
	if severityRank(ev.Severity) > severityRank(oi.incident.Severity) {
		oi.incident.Severity = ev.Severity
	}
	incident := oi.incident

	c.mu.Unlock()

	if c.publish == nil {
		return nil
	}
	return c.publish(ctx, incident)
}

func severityRank(s messages.Severity) int {
	switch s {
	case messages.SeverityCritical:
		return 3
	case messages.SeverityError:
		return 2
	case messages.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Sweep closes every open incident whose window has expired as of now,
// removing it from the in-progress map. It returns the fingerprints
// closed, for logging/testing.
func (c *Correlator) Sweep() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var closed []string
	for fp, oi := range c.open {
		if now.After(oi.windowEnd) {
			closed = append(closed, fp)
			delete(c.open, fp)
		}
	}
	return closed
}

// Run sweeps for expired incidents every interval until ctx is
// cancelled.
func (c *Correlator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed := c.Sweep()
			if len(closed) > 0 {
				c.logger.Debug("correlator swept expired incidents", map[string]interface{}{
					"count": len(closed),
				})
			}
		}
	}
}
