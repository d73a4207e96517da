// Package config loads and validates OpenFan Core configuration.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Built-in defaults (defaultConfig)
//  2. A YAML file (configs/config.yaml by default)
//  3. OPENFAN_* environment variables
//
// All durations are stored as plain integers in the YAML (seconds or
// milliseconds, documented per field) and exposed as time.Duration via
// getter methods so callers never repeat the unit conversion.
package config
