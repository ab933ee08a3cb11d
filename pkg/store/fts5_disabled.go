//go:build !(fts5 || sqlite_fts5)

package store

// The schema creates FTS5 virtual tables, and mattn/go-sqlite3 only
// compiles the FTS5 extension when built with -tags sqlite_fts5 (or
// fts5). Without the tag Open would fail at runtime with "no such
// module: fts5", so fail the build instead.
var _ = rebuildWithBuildTagSqliteFts5
