// Package storage persists the collection journal: one record per completed
// collection, bounded to the most recent entries.
//
// The file driver needs nothing but the filesystem. The sqlite driver is
// compiled in with -tags sqlite.
package storage
