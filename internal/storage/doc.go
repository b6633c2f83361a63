// Package storage provides the BBolt-backed record store for proxvault.
//
// Database structure uses two buckets:
//   - meta: store version and creation time
//   - users: username -> JSON-encoded UserRecord
//
// Every Put rewrites the whole record in a single transaction; there is no
// partial update format. Records returned by Get are fresh copies, so callers
// never alias the persisted state.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
package storage
