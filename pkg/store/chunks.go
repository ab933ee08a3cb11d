package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ReplaceChunks atomically swaps the chunk set for (fileID, version)
// and refreshes the FTS rows for those chunks. Readers of that
// version never observe a partial set.
func (s *Store) ReplaceChunks(fileID string, chunks []ChunkSnapshot, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace chunks: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_id = ? AND version = ?`, fileID, version); err != nil {
		return fmt.Errorf("replace chunks: delete rows: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chunks_fts WHERE file_id = ? AND version = ?`, fileID, version); err != nil {
		return fmt.Errorf("replace chunks: delete fts: %w", err)
	}

	insert, err := tx.Prepare(`
		INSERT INTO chunks (id, file_id, version, ordinal, text, snippet,
			token_count, char_count, section_path, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace chunks: prepare: %w", err)
	}
	defer insert.Close()

	ftsInsert, err := tx.Prepare(`
		INSERT INTO chunks_fts (text, chunk_id, file_id, version) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace chunks: prepare fts: %w", err)
	}
	defer ftsInsert.Close()

	for i, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		meta, err := metadataToJSON(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := insert.Exec(
			c.ID, fileID, version, i, c.Text, c.Snippet,
			c.TokenCount, c.CharCount, nullString(c.SectionPath), meta,
			createdAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("replace chunks: insert %s: %w", c.ID, err)
		}
		if _, err := ftsInsert.Exec(c.Text, c.ID, fileID, version); err != nil {
			return fmt.Errorf("replace chunks: insert fts %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetChunks returns the live chunks for (fileID, version) in ordinal
// order.
func (s *Store) GetChunks(fileID, version string) ([]ChunkSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, file_id, version, ordinal, text, snippet,
			token_count, char_count, section_path, metadata, created_at
		FROM chunks WHERE file_id = ? AND version = ? ORDER BY ordinal`,
		fileID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkSnapshot
	for rows.Next() {
		var (
			c         ChunkSnapshot
			section   sql.NullString
			meta      sql.NullString
			createdAt string
		)
		if err := rows.Scan(
			&c.ID, &c.FileID, &c.Version, &c.Ordinal, &c.Text, &c.Snippet,
			&c.TokenCount, &c.CharCount, &section, &meta, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("get chunks: scan: %w", err)
		}
		c.SectionPath = section.String
		c.Metadata = jsonToMetadata(meta)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunkByID returns one chunk by its (id, version) key, or nil.
func (s *Store) GetChunkByID(chunkID, version string) (*ChunkSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, file_id, version, ordinal, text, snippet,
			token_count, char_count, section_path, metadata, created_at
		FROM chunks WHERE id = ? AND version = ? LIMIT 1`,
		chunkID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var (
		c         ChunkSnapshot
		section   sql.NullString
		meta      sql.NullString
		createdAt string
	)
	if err := rows.Scan(
		&c.ID, &c.FileID, &c.Version, &c.Ordinal, &c.Text, &c.Snippet,
		&c.TokenCount, &c.CharCount, &section, &meta, &createdAt,
	); err != nil {
		return nil, fmt.Errorf("get chunk %s: scan: %w", chunkID, err)
	}
	c.SectionPath = section.String
	c.Metadata = jsonToMetadata(meta)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

// SearchKeyword runs BM25 over the chunk FTS index. fileIDs, when
// non-empty, restricts matches to those files. FTS5 bm25() scores are
// negative with lower meaning better, so they are negated before
// returning.
func (s *Store) SearchKeyword(query string, limit int, fileIDs []string) ([]KeywordHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT f.chunk_id, f.file_id, f.version, bm25(chunks_fts) AS score, c.snippet
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.chunk_id AND c.version = f.version
		WHERE chunks_fts MATCH ?`
	args := []any{match}

	if len(fileIDs) > 0 {
		placeholders := strings.Repeat("?,", len(fileIDs))
		sqlQuery += ` AND f.file_id IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range fileIDs {
			args = append(args, id)
		}
	}
	sqlQuery += ` ORDER BY score LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		// FTS5 rejects some token sequences outright; treat as no
		// results rather than a query failure.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.ChunkID, &h.FileID, &h.Version, &h.Score, &h.Snippet); err != nil {
			return nil, fmt.Errorf("keyword search: scan: %w", err)
		}
		h.Score = -h.Score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into a safe FTS5 MATCH expression by
// quoting each term.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}
