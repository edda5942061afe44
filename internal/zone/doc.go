// Package zone maintains the mirrored state of Russound controller zones.
//
// The controller is the source of truth; this package holds the bridge's
// local mirror, updated exclusively from controller notifications, plus the
// projection of that mirror into host-facing attributes.
//
// # Architecture
//
//	RIO notifications ──► Registry (zones + sources) ──► Attributes
//	                          │                              │
//	                          └── command validation         └── MQTT state,
//	                                                             status API
//
// The Registry is mutated only by the session's notification handler.
// Readers (bridge, API) receive copies, never internal pointers.
//
// # Volume scale
//
// The controller uses a native 0-50 volume scale; the host platform uses
// 0-100. ToUI and ToNative convert between them with rounding and
// clamping. The native scale is coarser, so a UI value does not always
// survive a round trip: ToNative(81) = 41, ToUI(41) = 82.
package zone
