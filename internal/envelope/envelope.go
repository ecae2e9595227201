// Package envelope defines the common header embedded in every ORION
// message struct, generalized from the teacher's core.ServiceInfo /
// core.Capability "small embeddable struct plus constructor" idiom.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// Version is the wire-format constant every message carries.
const Version = "1.0"

// Envelope is embedded by every message type in internal/messages.
type Envelope struct {
	VersionField string    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
}

// New stamps a fresh Envelope for a message emitted by source.
func New(source string) Envelope {
	return Envelope{
		VersionField: Version,
		Timestamp:    time.Now().UTC(),
		Source:       source,
	}
}

// NewID returns a fresh UUID string for an entity id field
// (event_id, incident_id, decision_id, ...).
func NewID() string {
	return uuid.New().String()
}
