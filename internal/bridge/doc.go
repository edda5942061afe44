// Package bridge orchestrates bidirectional translation between the
// host platform's MQTT contract and the Russound session.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                         Bridge                           │
//	│                                                          │
//	│  MQTT command ──► parse ──► session.SendCommand ──► ack  │
//	│                                                          │
//	│  zone update callback ──► attributes ──► retained state  │
//	│                      └──► snapshot store, telemetry      │
//	│                                                          │
//	│  connection callback ──► availability, event log         │
//	│  standby topic ──► supervisor EnterStandby/ExitStandby   │
//	│  health reporter ──► periodic health message             │
//	└──────────────────────────────────────────────────────────┘
//
// Command failures are acknowledged as failed on the ack topic and
// never change availability: the device indicator tracks the session's
// connection state only. Zone state publishes are retained so the host
// platform sees last-known state immediately after its own restarts.
package bridge
