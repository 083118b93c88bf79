// Package server exposes the HTTP API: job submission and status, the known
// speaker directory, health, statistics, sanitized configuration and
// Prometheus metrics.
package server
