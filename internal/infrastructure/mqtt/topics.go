package mqtt

import "fmt"

// Topic prefixes for the riolink MQTT contract.
//
// All bridge topics use the flat scheme: riolink/{category}/media_player/{address}
// where address is the zone entity address (e.g. "zone-3"). This is the
// host-platform integration contract for the bridge.
const (
	// TopicPrefix is the base for all riolink topics.
	TopicPrefix = "riolink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "riolink/system"

	// entityType is the only entity class the bridge exposes.
	entityType = "media_player"
)

// Topics provides builders for riolink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("zone-3")
//	// Returns: "riolink/state/media_player/zone-3"
type Topics struct{}

// State returns the topic for retained zone state updates.
//
// Example: riolink/state/media_player/zone-3
func (Topics) State(address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, entityType, address)
}

// Command returns the topic for commands to a zone.
//
// Example: riolink/command/media_player/zone-3
func (Topics) Command(address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, entityType, address)
}

// Ack returns the topic for command acknowledgements.
//
// Example: riolink/ack/media_player/zone-3
func (Topics) Ack(address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, entityType, address)
}

// Health returns the topic for periodic bridge health reports.
//
// Example: riolink/health/bridge
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/bridge", TopicPrefix)
}

// Availability returns the topic for device availability.
// Retained; also used as the LWT topic so a bridge crash marks the
// device unavailable.
//
// Example: riolink/availability/bridge
func (Topics) Availability() string {
	return fmt.Sprintf("%s/availability/bridge", TopicPrefix)
}

// SystemStatus returns the bridge online/offline status topic.
//
// Example: riolink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemStandby returns the host standby/wake signal topic.
// The host platform publishes here when it enters or leaves standby.
//
// Example: riolink/system/standby
func (Topics) SystemStandby() string {
	return fmt.Sprintf("%s/standby", TopicPrefixSystem)
}

// AllCommands returns a pattern matching commands for every zone.
//
// Pattern: riolink/command/media_player/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, entityType)
}

// AllStates returns a pattern matching state updates for every zone.
//
// Pattern: riolink/state/media_player/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, entityType)
}

// AllTopics returns a pattern matching all riolink topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: riolink/#
func (Topics) AllTopics() string {
	return "riolink/#"
}

// ZoneAddress returns the canonical entity address for a zone id.
//
// Example: ZoneAddress(3) == "zone-3"
func ZoneAddress(zoneID int) string {
	return fmt.Sprintf("zone-%d", zoneID)
}
