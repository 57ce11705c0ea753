// Package service holds the worker-side mirroring logic.
//
// This package contains:
//
//   - MirrorService: executes get, set and clear transactions against the
//     data partition through a closed Operation dispatch
//   - SessionGuard: invalidates mirrored data when the session changes
//
// Both services depend only on the Store interface, so they can run against
// the storage engine or an in-memory fake in tests.
package service
