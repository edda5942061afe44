// Package session owns the lifecycle of the link to a Russound
// controller: the connection state machine, the reconnect supervisor
// and the keepalive ping.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                        Session                          │
//	│                                                         │
//	│  Disconnected ──Connect()──► Connecting ──► Connected   │
//	│       ▲                          │              │       │
//	│       └────────── failure ◄──────┘   link loss  │       │
//	│       ▲                                         │       │
//	│       └─────────────────────────────────────────┘       │
//	│                                                         │
//	│  ┌────────────┐   dial    ┌───────────┐                 │
//	│  │ Supervisor │──────────►│ Transport │──► registry     │
//	│  │ (backoff)  │           │ (rio)     │    (zone)       │
//	│  └────────────┘           └───────────┘                 │
//	└─────────────────────────────────────────────────────────┘
//
// The session holds at most one live transport. Connect is idempotent
// while Connected; a failed connect records the error, ends
// Disconnected and fires the connection callback with false. The
// transport never reconnects on its own: link loss surfaces through
// its disconnect callback, and the supervisor (if armed) dials a fresh
// transport with exponential backoff.
//
// # Supervisor
//
// StartReconnect arms the supervisor; Disconnect or EnterStandby
// disarms it. At most one retry loop runs per session. Delays follow
// Backoff.Delay (1s doubling to a 60s cap by default) and the attempt
// counter resets after each successful connect. Connect failures
// inside the loop never propagate to callers; they are recorded as
// lastError and drive the next delay.
//
// # Notifications
//
// Device notifications are applied to the zone registry on the
// transport's single dispatch goroutine, so zone update callbacks fire
// in wire order. Notifications for ids outside the configured topology
// are counted and dropped without interrupting later notifications.
package session
