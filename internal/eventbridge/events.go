package eventbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Event types understood by the wizard.
const (
	TypeStepCompleted = "step_completed"
	TypeDirtyChanged  = "dirty_changed"
	TypeSessionEnd    = "session_end"
	TypeHeartbeat     = "heartbeat"
)

// Event is a notification from outside the terminal about a running wizard,
// for example a back office marking a step done.
type Event struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	ServerTime time.Time       `json:"server_time"`
	SessionID  string          `json:"session_id"`
	TemplateID string          `json:"template_id"`
	Step       int             `json:"step,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DirtyPayload is the body of a dirty_changed event.
type DirtyPayload struct {
	Dirty bool `json:"dirty"`
}

// Normalize applies defaults and canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.SessionID = strings.TrimSpace(e.SessionID)
	e.TemplateID = strings.TrimSpace(e.TemplateID)
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming events.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.TemplateID == "" {
		return errors.New("template_id is required")
	}
	switch e.Type {
	case TypeStepCompleted:
		if e.Step < 1 {
			return errors.New("step is required for step_completed")
		}
	case TypeDirtyChanged:
		if _, err := e.Dirty(); err != nil {
			return err
		}
	case TypeSessionEnd, TypeHeartbeat:
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("type %q not supported", e.Type)
	}
	return nil
}

// Dirty decodes a dirty_changed payload.
func (e Event) Dirty() (bool, error) {
	if len(e.Payload) == 0 {
		return false, errors.New("payload is required for dirty_changed")
	}
	var body DirtyPayload
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		return false, fmt.Errorf("invalid dirty_changed payload: %w", err)
	}
	return body.Dirty, nil
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}
