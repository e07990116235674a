// Package config defines the service configuration and loads it from
// defaults, an optional YAML file, a dotenv file and EXAMGEN_ environment
// variables.
package config
