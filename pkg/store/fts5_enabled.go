//go:build fts5 || sqlite_fts5

// mattn/go-sqlite3 compiles the FTS5 extension only under the fts5 or
// sqlite_fts5 build tags. The schema's chunks_fts and memory_fts
// virtual tables need it, so every build of this package carries one
// of the tags.

package store
