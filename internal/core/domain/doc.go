// Package domain defines the core domain values for kvmirror.
//
// Domain values carry no IO dependencies. This package contains:
//
//   - Session: the tri-state session token (unset, null, token) that
//     gates mirrored data
//   - Errors: the mirror error taxonomy shared by the worker, the wire
//     protocol and the client
package domain
