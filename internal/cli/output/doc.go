// Package output renders command results for the kvmirror CLI.
//
// Results are printed as plain text (the default), JSON or YAML.
// Mirrored values are JSON documents; Value keeps them intact in every
// format.
package output
