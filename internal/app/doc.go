// Package app assembles the realtime application from its adapters.
//
// It owns the catalog of watched collections with their look-back windows,
// fronts the store sources with the delta cache and exposes cache
// invalidation that reaches every instance.
package app
