// Package cmap provides a sharded concurrent map keyed by strings.
//
// Keys are spread over a power-of-two number of shards with a seeded
// murmur3 hash. Each shard has its own RWMutex, so operations on keys in
// different shards never contend.
//
//	m := cmap.New[string, *Conn]()
//	if m.SetIfAbsent(id, conn) { ... }
//	conn, ok := m.Pop(id)
package cmap
