// Package shutdown runs cleanup hooks when the process is asked to stop.
//
// Hooks run in reverse order of registration under one shared timeout,
// so resources opened last are released first.
package shutdown
