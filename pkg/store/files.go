package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const fileColumns = `id, path, name, extension, kind, size, modified_at,
	folder_id, privacy_level, page_count, preview_image, metadata,
	fast_stage, deep_stage,
	fast_text_at, fast_embed_at, deep_text_at, deep_embed_at, created_at`

func timeToText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func textToTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func metadataToJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

func jsonToMetadata(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}

// UpsertFile inserts or updates a file record. Stage timestamps that
// are nil on the incoming record are preserved from the stored row,
// so re-discovery never erases indexing progress markers.
func (s *Store) UpsertFile(rec *FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.PrivacyLevel == "" {
		rec.PrivacyLevel = PrivacyPrivate
	}
	meta, err := metadataToJSON(rec.Metadata)
	if err != nil {
		return err
	}
	modified := ""
	if !rec.ModifiedAt.IsZero() {
		modified = rec.ModifiedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.Exec(`
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			name = excluded.name,
			extension = excluded.extension,
			kind = excluded.kind,
			size = excluded.size,
			modified_at = excluded.modified_at,
			folder_id = excluded.folder_id,
			privacy_level = excluded.privacy_level,
			page_count = excluded.page_count,
			preview_image = COALESCE(excluded.preview_image, files.preview_image),
			metadata = COALESCE(excluded.metadata, files.metadata),
			fast_stage = excluded.fast_stage,
			deep_stage = excluded.deep_stage,
			fast_text_at = COALESCE(excluded.fast_text_at, files.fast_text_at),
			fast_embed_at = COALESCE(excluded.fast_embed_at, files.fast_embed_at),
			deep_text_at = COALESCE(excluded.deep_text_at, files.deep_text_at),
			deep_embed_at = COALESCE(excluded.deep_embed_at, files.deep_embed_at)`,
		rec.ID, rec.Path, rec.Name, rec.Extension, string(rec.Kind),
		rec.Size, modified,
		rec.FolderID, rec.PrivacyLevel, rec.PageCount, rec.PreviewImage, meta,
		rec.FastStage, rec.DeepStage,
		timeToText(rec.FastTextAt), timeToText(rec.FastEmbedAt),
		timeToText(rec.DeepTextAt), timeToText(rec.DeepEmbedAt),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", rec.ID, err)
	}
	return nil
}

func scanFile(row interface{ Scan(...any) error }) (*FileRecord, error) {
	var (
		rec                                      FileRecord
		kind, modifiedAt, createdAt              string
		meta                                     sql.NullString
		fastText, fastEmbed, deepText, deepEmbed sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.Path, &rec.Name, &rec.Extension, &kind,
		&rec.Size, &modifiedAt,
		&rec.FolderID, &rec.PrivacyLevel, &rec.PageCount, &rec.PreviewImage,
		&meta, &rec.FastStage, &rec.DeepStage,
		&fastText, &fastEmbed, &deepText, &deepEmbed, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Kind = FileKind(kind)
	if t, err := time.Parse(time.RFC3339Nano, modifiedAt); err == nil {
		rec.ModifiedAt = t
	}
	rec.Metadata = jsonToMetadata(meta)
	rec.FastTextAt = textToTime(fastText)
	rec.FastEmbedAt = textToTime(fastEmbed)
	rec.DeepTextAt = textToTime(deepText)
	rec.DeepEmbedAt = textToTime(deepEmbed)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// GetFile returns the file record, or nil when unknown.
func (s *Store) GetFile(id string) (*FileRecord, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	rec, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return rec, nil
}

// FindFilesByName returns all files whose name matches exactly
// (case-insensitive).
func (s *Store) FindFilesByName(name string) ([]*FileRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files WHERE name = ? COLLATE NOCASE ORDER BY created_at`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("find files by name: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// GetFilesInFolder returns all files belonging to the folder.
func (s *Store) GetFilesInFolder(folderID string) ([]*FileRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files WHERE folder_id = ? ORDER BY created_at`,
		folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("files in folder %s: %w", folderID, err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// PendingFastFiles returns files awaiting the fast round, oldest
// first.
func (s *Store) PendingFastFiles(limit int) ([]*FileRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files WHERE fast_stage = 0 ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pending fast files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// PendingDeepFiles returns files eligible for deep scheduling, oldest
// first. Eligibility here is the stage predicate only; kind-level
// suitability is the deep processor's call.
func (s *Store) PendingDeepFiles(limit int) ([]*FileRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files WHERE fast_stage = 2 AND deep_stage = 0
		 ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pending deep files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func collectFiles(rows *sql.Rows) ([]*FileRecord, error) {
	var out []*FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateFileStage applies a partial stage update atomically. Nil
// fields are untouched.
func (s *Store) UpdateFileStage(id string, upd StageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sets []string
		args []any
	)
	if upd.FastStage != nil {
		sets = append(sets, "fast_stage = ?")
		args = append(args, *upd.FastStage)
	}
	if upd.DeepStage != nil {
		sets = append(sets, "deep_stage = ?")
		args = append(args, *upd.DeepStage)
	}
	if upd.FastTextAt != nil {
		sets = append(sets, "fast_text_at = ?")
		args = append(args, timeToText(upd.FastTextAt))
	}
	if upd.FastEmbedAt != nil {
		sets = append(sets, "fast_embed_at = ?")
		args = append(args, timeToText(upd.FastEmbedAt))
	}
	if upd.DeepTextAt != nil {
		sets = append(sets, "deep_text_at = ?")
		args = append(args, timeToText(upd.DeepTextAt))
	}
	if upd.DeepEmbedAt != nil {
		sets = append(sets, "deep_embed_at = ?")
		args = append(args, timeToText(upd.DeepEmbedAt))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.Exec("UPDATE files SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update stage for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update stage: file %s not found", id)
	}
	return nil
}

// UpdateFileMetadata merges keys into the file's metadata map.
func (s *Store) UpdateFileMetadata(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta sql.NullString
	err := s.db.QueryRow(`SELECT metadata FROM files WHERE id = ?`, id).Scan(&meta)
	if err == sql.ErrNoRows {
		return fmt.Errorf("update metadata: file %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("update metadata for %s: %w", id, err)
	}

	merged := jsonToMetadata(meta)
	if merged == nil {
		merged = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		merged[k] = v
	}
	raw, err := metadataToJSON(merged)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE files SET metadata = ? WHERE id = ?`, raw, id)
	if err != nil {
		return fmt.Errorf("update metadata for %s: %w", id, err)
	}
	return nil
}

// UpsertFolder inserts or updates a watched folder.
func (s *Store) UpsertFolder(rec *FolderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO folders (id, path, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET path = excluded.path, name = excluded.name`,
		rec.ID, rec.Path, rec.Name, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert folder %s: %w", rec.ID, err)
	}
	return nil
}

// Counts returns (files, folders).
func (s *Store) Counts() (files int, folders int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&files); err != nil {
		return 0, 0, fmt.Errorf("count files: %w", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM folders`).Scan(&folders); err != nil {
		return 0, 0, fmt.Errorf("count folders: %w", err)
	}
	return files, folders, nil
}
