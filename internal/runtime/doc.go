// Package runtime wires storage and configuration for a single-node
// syncd instance and hands out per-stream event logs. Logs are cached so
// each stream has exactly one in-memory head, which is what the
// single-writer append discipline relies on.
package runtime
