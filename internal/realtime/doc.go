// Package realtime fans store changes out to connected clients. Each
// partition is served by one Hub actor that owns its sessions, polls the
// backing store while it has sessions and evicts silent ones.
package realtime
