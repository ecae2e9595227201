// Package contracts loads the versioned JSON Schemas under
// contracts/schemas/ at startup and is the single gatekeeper for bus
// publish: no message reaches internal/bus without passing Validate.
package contracts

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/orion-homelab/orion/internal/orionerr"
)

// LoadDir is the convenience entry point used by main(): it loads every
// schema in a real filesystem directory.
func LoadDir(dirPath string) (*Validator, error) {
	return Load(os.DirFS(dirPath), ".")
}

// Validator compiles one schema per message type and validates
// messages against them. Validation is a pure function: it never logs
// to the message and never mutates it.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// Load compiles every schema found in dir (one JSON file per message
// type, file name "<type>.json") into a Validator. Called once at
// process startup; the result is immutable thereafter.
func Load(dir fs.FS, dirPath string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	entries, err := fs.Glob(dir, filepath.Join(dirPath, "*.json"))
	if err != nil {
		return nil, orionerr.New("contracts.Load", "contract", err)
	}
	if len(entries) == 0 {
		return nil, orionerr.New("contracts.Load", "contract", fmt.Errorf("no schemas found in %s", dirPath))
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(entries))}
	for _, path := range entries {
		data, err := fs.ReadFile(dir, path)
		if err != nil {
			return nil, orionerr.New("contracts.Load", "contract", err).WithID(path)
		}
		url := "mem://" + path
		if err := compiler.AddResource(url, strings.NewReader(string(data))); err != nil {
			return nil, orionerr.New("contracts.Load", "contract", err).WithID(path)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, orionerr.New("contracts.Load", "contract", err).WithID(path)
		}
		msgType := strings.TrimSuffix(filepath.Base(path), ".json")
		v.schemas[msgType] = schema
	}
	return v, nil
}

// Violation names the specific constraint a message failed, matching
// §4.A's taxonomy (missing required field, unknown field, enum
// mismatch, pattern mismatch, type mismatch, version mismatch).
type Violation struct {
	MessageType string
	Detail      string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("contract violation for %s: %s", v.MessageType, v.Detail)
}

// Validate checks raw (a JSON-encoded message) against the schema
// registered for msgType. Unknown message types are themselves a
// violation (ErrUnknownMessageType), never a crash.
func (v *Validator) Validate(raw []byte, msgType string) error {
	schema, ok := v.schemas[msgType]
	if !ok {
		return orionerr.New("contracts.Validate", "contract", orionerr.ErrUnknownMessageType).WithID(msgType)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &Violation{MessageType: msgType, Detail: "invalid JSON: " + err.Error()}
	}

	if err := schema.Validate(doc); err != nil {
		return &Violation{MessageType: msgType, Detail: err.Error()}
	}
	return nil
}

// ValidateValue marshals v to JSON and validates the result, a
// convenience for callers holding a Go value rather than raw bytes
// (internal/bus.Publish marshals itself and calls Validate).
func (val *Validator) ValidateValue(v interface{}, msgType string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return orionerr.New("contracts.ValidateValue", "contract", err).WithID(msgType)
	}
	return val.Validate(raw, msgType)
}

// Types returns the message types this Validator has schemas for.
func (v *Validator) Types() []string {
	out := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		out = append(out, t)
	}
	return out
}
