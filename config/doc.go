// Package config implements layered configuration for the router:
// built-in defaults, an optional YAML file, environment variable
// overrides, and finally programmatic overrides, in that order. Once
// merged, Validate disables backends that are missing credentials or
// carry a malformed endpoint and clamps out-of-range numeric fields,
// rather than failing outright, so a single bad backend entry does not
// take the whole process down.
package config
