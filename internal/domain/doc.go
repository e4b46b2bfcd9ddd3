// Package domain defines the shared types and contracts of the realtime service.
//
// Identities and roles, channel naming, the tagged union of row payloads that the
// change poller dispatches, and the backing-store contract. No implementation code.
// Interfaces live here so adapters and the realtime core never import each other.
package domain
