// Package main provides the entry point for kvmirror, the command-line
// client of the mirror store.
//
// Usage:
//
//	kvmirror set user '{"name":"alice"}'
//	kvmirror get user
//	kvmirror --session s2 get user
//	kvmirror -o yaml status
package main
