// Package httpserver is the HTTP client adapter for the broker. Routes live
// under /v1/tasks and mirror the worker capability surface: poll, ack,
// update, log, inspect, remove and queue depth. /metrics serves Prometheus
// collectors and /v1/healthz a storage liveness probe.
package httpserver
