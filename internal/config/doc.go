// Package config loads vermillion configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file, a .env file
// in the working directory, VERMILLION_* environment variables. The merged
// result is checked against schema.cue before use.
package config
