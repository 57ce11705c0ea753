// Package main provides the entry point for kvmirror-worker.
//
// kvmirror-worker is the shared worker: one process owning the mirror
// store and serving every client that connects to its unix socket.
//
// Usage:
//
//	kvmirror-worker [flags]
//	kvmirror-worker --config /etc/kvmirror/kvmirror.yaml
//
// Clients that find no worker on the socket fall back to an in-process
// worker of their own.
package main
