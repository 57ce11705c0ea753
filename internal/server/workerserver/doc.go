// Package workerserver provides the mirror worker.
//
// A Worker owns one store and serves any number of client connections.
// Each connection is driven by a Router, a state machine that waits for the
// connect handshake, registers the connection and then dispatches requests
// in arrival order until the client disconnects.
//
// The same Worker runs behind the unix socket Server of the kvmirror-worker
// daemon and in-process behind an in-memory pipe when no daemon is
// reachable.
package workerserver
