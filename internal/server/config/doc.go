// Package config defines the kvmirror configuration.
//
//   - spec.go: Config struct definition
//   - default.go: default values
//   - verify.go: validation
//
// Configuration is loaded via internal/infra/confloader from the YAML
// file, KVMIRROR_* environment variables and command-line flags.
package config
