// Package config provides configuration loading and validation for the LiveLink stream service.
// It handles YAML-based configuration with per-section validation and duration helpers
// for the UDP ingest, HTTP API, scene mirror, publisher and relay transport.
package config
