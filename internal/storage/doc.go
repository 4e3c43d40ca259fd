// Package storage persists schools, schedule sets, bells, special days and the
// activity log.
//
// Drivers:
//   - "memory": process-local maps (default; tests and demos)
//   - "file": the memory store plus a JSON snapshot and a JSONL activity log
//   - "sqlite": modernc.org/sqlite database file
//   - "postgres": lib/pq DSN
//
// Reads never fail on missing rows; they return empty values. Writes that target
// a missing row return ErrNotFound.
package storage
