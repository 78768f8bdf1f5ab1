// Package config holds the cluster-wide constants and endpoint
// configuration. Defaults come first, then environment variables
// (INTERNAL_REDIS_SERVICE_NAME, INTERNAL_REDIS_PORT, ATLAS_LOG_LEVEL),
// then an optional YAML overlay file.
package config
