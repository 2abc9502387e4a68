// Package store houses concrete implementations of the core store
// interfaces. The SQLite store is the durable backend used in production;
// the in-memory store backs tests and ephemeral demo servers. Only the
// wiring layer decides which implementation to instantiate.
package store
