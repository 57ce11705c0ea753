// Package command defines the kvmirror CLI commands using urfave/cli/v2.
//
//   - root.go: the application, global flags and client setup
//   - mirror.go: get, set, destroy and clear
//   - session.go: validate-session
//   - status.go: worker and capability status
//
// Every command reaches the store through a client.Proxy: the shared
// worker daemon when its socket answers, else an in-process worker.
package command
