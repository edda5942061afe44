package rio

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NotificationKind discriminates the two RIO notification shapes.
type NotificationKind int

const (
	// KindZone is a zone field notification: N C[c].Z[z].field="value"
	KindZone NotificationKind = iota

	// KindSource is a source field notification: N S[s].field="value"
	KindSource
)

// Notification is a parsed RIO notification line.
//
// Zone notifications carry Controller and Zone; source notifications
// carry Source. The unused ids are zero.
type Notification struct {
	Kind       NotificationKind
	Controller int
	Zone       int
	Source     int
	Field      string
	Value      string
}

// Notification line patterns. Values are always double-quoted; the value
// itself never contains a double quote on the wire.
var (
	zoneNotificationRe   = regexp.MustCompile(`^N C\[(\d+)\]\.Z\[(\d+)\]\.(\w+)="(.*)"$`)
	sourceNotificationRe = regexp.MustCompile(`^N S\[(\d+)\]\.(\w+)="(.*)"$`)
	versionResponseRe    = regexp.MustCompile(`^S VERSION="(.+)"$`)
)

// IsNotification reports whether a line is an unsolicited notification.
func IsNotification(line string) bool {
	return strings.HasPrefix(line, "N ")
}

// IsSuccess reports whether a line is a success response.
func IsSuccess(line string) bool {
	return line == "S" || strings.HasPrefix(line, "S ")
}

// IsError reports whether a line is an error response.
func IsError(line string) bool {
	return line == "E" || strings.HasPrefix(line, "E ")
}

// ErrorMessage extracts the message from an error response line.
func ErrorMessage(line string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, "E"))
}

// ParseNotification parses a notification line into its typed form.
//
// Returns ErrInvalidLine for lines that are not well-formed zone or
// source notifications.
func ParseNotification(line string) (Notification, error) {
	if m := zoneNotificationRe.FindStringSubmatch(line); m != nil {
		controller, _ := strconv.Atoi(m[1])
		zone, _ := strconv.Atoi(m[2])
		return Notification{
			Kind:       KindZone,
			Controller: controller,
			Zone:       zone,
			Field:      m[3],
			Value:      m[4],
		}, nil
	}

	if m := sourceNotificationRe.FindStringSubmatch(line); m != nil {
		source, _ := strconv.Atoi(m[1])
		return Notification{
			Kind:   KindSource,
			Source: source,
			Field:  m[2],
			Value:  m[3],
		}, nil
	}

	return Notification{}, fmt.Errorf("%w: %q", ErrInvalidLine, line)
}

// ParseVersion extracts the firmware version from a VERSION response.
//
// Example input: S VERSION="07.04.00"
func ParseVersion(line string) (string, error) {
	m := versionResponseRe.FindStringSubmatch(line)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLine, line)
	}
	return m[1], nil
}

// ParseOnOff converts the controller's "ON"/"OFF" strings to a bool.
// Anything other than "ON" is treated as off.
func ParseOnOff(value string) bool {
	return value == "ON"
}

// Command formatters. Commands are sent without the trailing CR; the
// client appends the terminator on write.

// VersionCommand requests the controller firmware version.
// Also used as the keepalive ping.
func VersionCommand() string {
	return "VERSION"
}

// WatchZoneCommand subscribes to notifications for a zone.
func WatchZoneCommand(controller, zone int) string {
	return fmt.Sprintf("WATCH C[%d].Z[%d] ON", controller, zone)
}

// WatchSourceCommand subscribes to notifications for a source.
func WatchSourceCommand(source int) string {
	return fmt.Sprintf("WATCH S[%d] ON", source)
}

// GetZoneNameCommand requests a zone's configured name.
func GetZoneNameCommand(controller, zone int) string {
	return fmt.Sprintf("GET C[%d].Z[%d].name", controller, zone)
}

// ZoneOnCommand powers a zone on.
func ZoneOnCommand(controller, zone int) string {
	return fmt.Sprintf("EVENT C[%d].Z[%d]!ZoneOn", controller, zone)
}

// ZoneOffCommand powers a zone off.
func ZoneOffCommand(controller, zone int) string {
	return fmt.Sprintf("EVENT C[%d].Z[%d]!ZoneOff", controller, zone)
}

// VolumeCommand sets a zone's volume on the native 0-50 scale.
func VolumeCommand(controller, zone, volume int) string {
	return fmt.Sprintf("EVENT C[%d].Z[%d]!KeyRelease Volume %d", controller, zone, volume)
}

// MuteToggleCommand toggles a zone's mute state.
func MuteToggleCommand(controller, zone int) string {
	return fmt.Sprintf("EVENT C[%d].Z[%d]!KeyRelease Mute", controller, zone)
}

// SelectSourceCommand switches a zone to a source.
func SelectSourceCommand(controller, zone, source int) string {
	return fmt.Sprintf("EVENT C[%d].Z[%d]!SelectSource %d", controller, zone, source)
}
