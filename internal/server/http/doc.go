// Package httpserver exposes the sync surface over HTTP: JSON publish and
// read endpoints, SSE and WebSocket subscribe with resume negotiation,
// snapshot seeds for rebootstrap, and metrics/health probes.
package httpserver
