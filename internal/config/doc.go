// Package config loads, normalizes, and validates vidpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// VIDPIPE_CLASSIFIER_TOKEN (optionally sourced from a .env file). The Config
// type centralizes every knob the workers, the trigger server, and the CLI
// need, so scratch locations, storage backends, and external service
// credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
