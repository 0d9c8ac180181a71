// Package session implements the refresh-token registry: the server-side record
// of every issued refresh token, grouped into rotation families.
//
// # Backends
//
// [MemoryStore] keeps records in process and is the default for tests and
// single-node deployments. [Store] persists records in Redis using a compact
// binary encoding with Lua scripts for the atomic paths. A PostgreSQL backend
// lives in the postgres subpackage.
//
// # Indexes
//
// Every backend maintains two adjacency indexes: family to token ids and
// subject to families. A family with no remaining records is dropped from both,
// so logout-all only visits families that can still hold live tokens.
//
// # Architecture boundaries
//
// This package owns [Record], the [Registry] contract and its backends. It
// does NOT parse or sign tokens and does not decide when a family must be
// revoked; the engine makes those calls.
//
// # What this package must NOT do
//
//   - Import goRotate or jwt (no upward imports).
//   - Hard-delete revoked records before they expire.
//   - Report a backend failure as a miss.
package session
