package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atward/riolink/internal/zone"
)

// MQTT message types for the riolink bridge contract.

// CommandMessage is sent by the host platform to execute a zone command.
// Topic: riolink/command/media_player/{address}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with the ack.
	// The bridge assigns one when the host omits it.
	ID string `json:"id,omitempty"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Command is the command name (e.g. "power_on", "set_volume").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"volume": 80} for set_volume
	//   {"source": "Streamer"} for select_source
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("ui", "automation").
	Source string `json:"source,omitempty"`
}

// Volume extracts the volume parameter (host 0-100 scale).
func (m CommandMessage) Volume() (int, bool) {
	raw, ok := m.Parameters["volume"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64: // JSON numbers decode as float64
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// SourceName extracts the source parameter.
func (m CommandMessage) SourceName() (string, bool) {
	raw, ok := m.Parameters["source"]
	if !ok {
		return "", false
	}
	name, ok := raw.(string)
	return name, ok
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was written to the controller.
	// The resulting state change arrives later as a notification.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for failed acks.
const (
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeInvalidTarget  = "INVALID_TARGET"
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeDeviceError    = "DEVICE_ERROR"
	ErrCodeBridgeError    = "BRIDGE_ERROR"
)

// AckMessage acknowledges a command.
// Topic: riolink/ack/media_player/{address}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgement was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Address is the zone entity address (e.g. "zone-3").
	Address string `json:"address"`

	// Status is "accepted" or "failed".
	Status AckStatus `json:"status"`

	// Error contains details when Status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the machine-readable failure class.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// NewAckMessage creates an accepted ack for a command.
// A command without an ID gets one assigned so the ack is still
// correlatable in logs.
func NewAckMessage(cmd CommandMessage, address string) AckMessage {
	return AckMessage{
		CommandID: ackCommandID(cmd),
		Timestamp: time.Now().UTC(),
		Address:   address,
		Status:    AckAccepted,
	}
}

// NewAckError creates a failed ack with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	return AckMessage{
		CommandID: ackCommandID(cmd),
		Timestamp: time.Now().UTC(),
		Address:   address,
		Status:    AckFailed,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

func ackCommandID(cmd CommandMessage) string {
	if cmd.ID != "" {
		return cmd.ID
	}
	return uuid.NewString()
}

// StateMessage carries a zone's full attribute projection.
// Topic: riolink/state/media_player/{address}
// QoS: 1, Retained: yes
type StateMessage struct {
	// Address is the zone entity address (e.g. "zone-3").
	Address string `json:"address"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State is the host-facing attribute projection.
	State zone.Attributes `json:"state"`
}

// NewStateMessage creates a state message for a zone.
func NewStateMessage(address string, attrs zone.Attributes) StateMessage {
	return StateMessage{
		Address:   address,
		Timestamp: time.Now().UTC(),
		State:     attrs,
	}
}

// AvailabilityMessage reflects the device link on the availability
// topic. Retained; the broker's LWT marks the bridge itself offline.
type AvailabilityMessage struct {
	// Available is true while the session is Connected.
	Available bool `json:"available"`

	// Timestamp is when availability changed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Reason explains an unavailable state (last session error).
	Reason string `json:"reason,omitempty"`
}

// StandbyMessage carries host power events.
// Topic: riolink/system/standby
type StandbyMessage struct {
	// Standby is true when the host enters standby, false on wake.
	Standby bool `json:"standby"`
}

// ParseZoneAddress extracts the zone id from an entity address.
//
// Example: ParseZoneAddress("zone-3") == 3
func ParseZoneAddress(address string) (int, error) {
	raw, ok := strings.CutPrefix(address, "zone-")
	if !ok {
		return 0, fmt.Errorf("invalid zone address %q", address)
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid zone address %q", address)
	}
	return id, nil
}

// zoneAddressFromTopic extracts the entity address from a command
// topic (the final segment).
func zoneAddressFromTopic(topic string) (string, error) {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return "", fmt.Errorf("invalid command topic %q", topic)
	}
	return topic[idx+1:], nil
}
