// Package storage persists schedule entries.
//
// A Store holds one JSON document per entry, keyed by its 32-bit ID and
// indexed by workspace and channel. Drivers:
//   - "memory": process-local map (tests, throwaway runs)
//   - "file": snapshot + append-only journal, compacted periodically
//   - "sqlite": modernc.org/sqlite, single writer, WAL
//   - "postgres": pgx pool, JSONB documents, row locks for partial updates
package storage
