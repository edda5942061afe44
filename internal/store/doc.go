// Package store persists zone and source snapshots across restarts.
//
// The bridge saves the mirror whenever it changes and restores it at
// startup, so the host platform sees last-known state while the first
// connection to the controller is still being established. A small
// session event log supports the status API.
//
// Storage is SQLite via the infrastructure/database wrapper; the
// schema is created on Init and is idempotent.
package store
