// Package config loads and validates application configuration from
// defaults, an optional YAML file, and IDXWATCH_* environment variables.
package config
