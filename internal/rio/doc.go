// Package rio implements a client for the Russound RIO protocol.
//
// RIO is a line-oriented ASCII protocol spoken over TCP (port 9621).
// Commands are CR-terminated lines; the controller answers each command
// with a success ("S ...") or error ("E ...") line and pushes unsolicited
// notification lines ("N ...") for every watched object that changes.
//
// # Architecture
//
//	Client ──► TCP ──► Russound controller
//	  │
//	  ├── receiveLoop: reads lines, parses notifications
//	  └── dispatchLoop: delivers notifications to the callback,
//	      one at a time, in the order they arrived
//
// # Connection ownership
//
// The client does NOT reconnect on its own. When the link drops, the
// receive loop stops and the on-disconnect callback fires exactly once,
// on its own goroutine; a drop that lands before the callback is
// registered is replayed by SetOnDisconnect. Re-establishing the
// session is the caller's job. This keeps a single owner for retry
// policy instead of competing reconnect loops.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The notification callback is
// invoked from a single dispatch goroutine, so callbacks observe updates
// in delivery order.
package rio
