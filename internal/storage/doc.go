// Package storage provides the persistent store behind the mirror worker.
//
// The store is an embedded key-value database split into named partitions.
// Two layers make it up:
//
//   - Backend: one embedded engine (Badger by default, SQLite optionally)
//     that knows how to read, upsert and clear a partition and how to record
//     the schema version together with the partitions each migration created
//   - Engine: owns a single Backend handle, opens it lazily exactly once,
//     runs the migration chain and gates every operation behind that open
//
// Every Engine operation runs in its own transaction. Writes to one partition
// are serialized; reads never wait for writers.
package storage
