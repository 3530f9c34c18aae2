// Package storage persists delivery records: which (chat, message) pairs the
// relay sent and when, so the retention sweep can delete them later.
//
// Two drivers are available:
//   - "sqlite": a SQLite database file (default)
//   - "file": JSON Lines journal + periodic snapshot, no database needed
package storage
