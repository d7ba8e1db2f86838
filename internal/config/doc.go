// Package config loads, normalizes, and validates sdqueue configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads optional .env files, and honours
// environment fallbacks such as SDQUEUE_REDIS_URL and AWS_REGION. The Config
// type centralizes every knob the daemon and CLI need, so the state
// directory, output and model locations, telemetry throttles, and event
// publishers are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
