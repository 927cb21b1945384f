// Package config loads, normalizes, and validates ffarm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FFARM_MASTER_URL and FFARM_FFMPEG. The Config type carries every knob the
// master, the worker agent, and the CLI need, so both processes can share one
// file.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
