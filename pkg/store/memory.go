package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EpisodeRecord is an episodic memory.
type EpisodeRecord struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Summary   string         `json:"summary"`
	Episode   string         `json:"episode,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventLogRecord is one atomic fact tied to a user.
type EventLogRecord struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	AtomicFact      string         `json:"atomic_fact"`
	Timestamp       string         `json:"timestamp,omitempty"`
	ParentEpisodeID string         `json:"parent_episode_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ForesightRecord is a prospective memory.
type ForesightRecord struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Content         string         `json:"content"`
	Evidence        string         `json:"evidence,omitempty"`
	ParentEpisodeID string         `json:"parent_episode_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ProfileRecord is a per-user profile.
type ProfileRecord struct {
	UserID      string              `json:"user_id"`
	UserName    string              `json:"user_name,omitempty"`
	Personality []string            `json:"personality,omitempty"`
	Interests   []string            `json:"interests,omitempty"`
	HardSkills  []map[string]string `json:"hard_skills,omitempty"`
	SoftSkills  []map[string]string `json:"soft_skills,omitempty"`
	UpdatedAt   string              `json:"updated_at,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// MemoryHit is one FTS match across all memory types.
type MemoryHit struct {
	MemoryID   string  `json:"memory_id"`
	MemoryType string  `json:"memory_type"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record field: %w", err)
	}
	return string(raw), nil
}

func (s *Store) refreshMemoryFTS(tx *sql.Tx, memoryType, memoryID, userID, content string) error {
	if _, err := tx.Exec(
		`DELETE FROM memory_fts WHERE memory_id = ? AND memory_type = ?`, memoryID, memoryType,
	); err != nil {
		return err
	}
	_, err := tx.Exec(
		`INSERT INTO memory_fts (content, user_id, memory_type, memory_id) VALUES (?, ?, ?, ?)`,
		content, userID, memoryType, memoryID,
	)
	return err
}

// UpsertEpisode inserts or updates an episode and its FTS row.
func (s *Store) UpsertEpisode(rec *EpisodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowISO()
	ts := rec.Timestamp
	if ts == "" {
		ts = now
	}
	meta, err := metadataToJSON(rec.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("upsert episode: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO memory_episodes (id, user_id, summary, episode, subject, timestamp, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			episode = excluded.episode,
			subject = excluded.subject,
			timestamp = excluded.timestamp,
			metadata = excluded.metadata`,
		rec.ID, rec.UserID, rec.Summary, nullString(rec.Episode),
		nullString(rec.Subject), ts, meta, now,
	); err != nil {
		return fmt.Errorf("upsert episode %s: %w", rec.ID, err)
	}

	content := strings.TrimSpace(rec.Summary + " " + rec.Episode + " " + rec.Subject)
	if err := s.refreshMemoryFTS(tx, "episode", rec.ID, rec.UserID, content); err != nil {
		return fmt.Errorf("upsert episode fts %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

// GetEpisodes lists a user's episodes, newest first.
func (s *Store) GetEpisodes(userID string, limit, offset int) ([]*EpisodeRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, summary, episode, subject, timestamp, metadata
		FROM memory_episodes WHERE user_id = ?
		ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get episodes: %w", err)
	}
	defer rows.Close()

	var out []*EpisodeRecord
	for rows.Next() {
		var (
			rec              EpisodeRecord
			episode, subject sql.NullString
			meta             sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Summary, &episode, &subject, &rec.Timestamp, &meta); err != nil {
			return nil, fmt.Errorf("get episodes: scan: %w", err)
		}
		rec.Episode = episode.String
		rec.Subject = subject.String
		rec.Metadata = jsonToMetadata(meta)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// DeleteEpisode removes an episode and its FTS row.
func (s *Store) DeleteEpisode(episodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete episode: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM memory_episodes WHERE id = ?`, episodeID); err != nil {
		return fmt.Errorf("delete episode %s: %w", episodeID, err)
	}
	if _, err := tx.Exec(
		`DELETE FROM memory_fts WHERE memory_id = ? AND memory_type = 'episode'`, episodeID,
	); err != nil {
		return fmt.Errorf("delete episode fts %s: %w", episodeID, err)
	}
	return tx.Commit()
}

// UpsertEventLog inserts or updates an atomic fact and its FTS row.
func (s *Store) UpsertEventLog(rec *EventLogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowISO()
	ts := rec.Timestamp
	if ts == "" {
		ts = now
	}
	meta, err := metadataToJSON(rec.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("upsert event log: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO memory_event_logs (id, user_id, atomic_fact, timestamp, parent_episode_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			atomic_fact = excluded.atomic_fact,
			timestamp = excluded.timestamp,
			parent_episode_id = excluded.parent_episode_id,
			metadata = excluded.metadata`,
		rec.ID, rec.UserID, rec.AtomicFact, ts, nullString(rec.ParentEpisodeID), meta, now,
	); err != nil {
		return fmt.Errorf("upsert event log %s: %w", rec.ID, err)
	}

	if err := s.refreshMemoryFTS(tx, "event_log", rec.ID, rec.UserID, rec.AtomicFact); err != nil {
		return fmt.Errorf("upsert event log fts %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

// GetEventLogs lists a user's atomic facts, newest first.
func (s *Store) GetEventLogs(userID string, limit, offset int) ([]*EventLogRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, atomic_fact, timestamp, parent_episode_id, metadata
		FROM memory_event_logs WHERE user_id = ?
		ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get event logs: %w", err)
	}
	defer rows.Close()

	var out []*EventLogRecord
	for rows.Next() {
		var (
			rec    EventLogRecord
			parent sql.NullString
			meta   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.AtomicFact, &rec.Timestamp, &parent, &meta); err != nil {
			return nil, fmt.Errorf("get event logs: scan: %w", err)
		}
		rec.ParentEpisodeID = parent.String
		rec.Metadata = jsonToMetadata(meta)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// UpsertForesight inserts or updates a prospective memory and its
// FTS row.
func (s *Store) UpsertForesight(rec *ForesightRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := metadataToJSON(rec.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("upsert foresight: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO memory_foresights (id, user_id, content, evidence, parent_episode_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			evidence = excluded.evidence,
			parent_episode_id = excluded.parent_episode_id,
			metadata = excluded.metadata`,
		rec.ID, rec.UserID, rec.Content, nullString(rec.Evidence),
		nullString(rec.ParentEpisodeID), meta, nowISO(),
	); err != nil {
		return fmt.Errorf("upsert foresight %s: %w", rec.ID, err)
	}

	content := strings.TrimSpace(rec.Content + " " + rec.Evidence)
	if err := s.refreshMemoryFTS(tx, "foresight", rec.ID, rec.UserID, content); err != nil {
		return fmt.Errorf("upsert foresight fts %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

// GetForesights lists a user's prospective memories.
func (s *Store) GetForesights(userID string, limit int) ([]*ForesightRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, content, evidence, parent_episode_id, metadata
		FROM memory_foresights WHERE user_id = ? LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get foresights: %w", err)
	}
	defer rows.Close()

	var out []*ForesightRecord
	for rows.Next() {
		var (
			rec              ForesightRecord
			evidence, parent sql.NullString
			meta             sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Content, &evidence, &parent, &meta); err != nil {
			return nil, fmt.Errorf("get foresights: scan: %w", err)
		}
		rec.Evidence = evidence.String
		rec.ParentEpisodeID = parent.String
		rec.Metadata = jsonToMetadata(meta)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// UpsertProfile inserts or replaces a user profile.
func (s *Store) UpsertProfile(rec *ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	personality, err := encodeJSON(rec.Personality)
	if err != nil {
		return err
	}
	interests, err := encodeJSON(rec.Interests)
	if err != nil {
		return err
	}
	hardSkills, err := encodeJSON(rec.HardSkills)
	if err != nil {
		return err
	}
	softSkills, err := encodeJSON(rec.SoftSkills)
	if err != nil {
		return err
	}
	meta, err := metadataToJSON(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO memory_profiles (user_id, user_name, personality, interests, hard_skills, soft_skills, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			user_name = excluded.user_name,
			personality = excluded.personality,
			interests = excluded.interests,
			hard_skills = excluded.hard_skills,
			soft_skills = excluded.soft_skills,
			updated_at = excluded.updated_at,
			metadata = excluded.metadata`,
		rec.UserID, nullString(rec.UserName), personality, interests,
		hardSkills, softSkills, nowISO(), meta,
	)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", rec.UserID, err)
	}
	return nil
}

// GetProfile returns the user's profile, or nil when absent.
func (s *Store) GetProfile(userID string) (*ProfileRecord, error) {
	var (
		rec                    ProfileRecord
		userName               sql.NullString
		personality, interests sql.NullString
		hardSkills, softSkills sql.NullString
		meta                   sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT user_id, user_name, personality, interests, hard_skills, soft_skills, updated_at, metadata
		FROM memory_profiles WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &userName, &personality, &interests, &hardSkills, &softSkills, &rec.UpdatedAt, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	rec.UserName = userName.String
	if personality.Valid {
		_ = json.Unmarshal([]byte(personality.String), &rec.Personality)
	}
	if interests.Valid {
		_ = json.Unmarshal([]byte(interests.String), &rec.Interests)
	}
	if hardSkills.Valid {
		_ = json.Unmarshal([]byte(hardSkills.String), &rec.HardSkills)
	}
	if softSkills.Valid {
		_ = json.Unmarshal([]byte(softSkills.String), &rec.SoftSkills)
	}
	rec.Metadata = jsonToMetadata(meta)
	return &rec, nil
}

// CountMemories returns (episodes, eventLogs, foresights) for a user.
func (s *Store) CountMemories(userID string) (episodes, eventLogs, foresights int, err error) {
	if err = s.db.QueryRow(
		`SELECT COUNT(*) FROM memory_episodes WHERE user_id = ?`, userID,
	).Scan(&episodes); err != nil {
		return 0, 0, 0, fmt.Errorf("count episodes: %w", err)
	}
	if err = s.db.QueryRow(
		`SELECT COUNT(*) FROM memory_event_logs WHERE user_id = ?`, userID,
	).Scan(&eventLogs); err != nil {
		return 0, 0, 0, fmt.Errorf("count event logs: %w", err)
	}
	if err = s.db.QueryRow(
		`SELECT COUNT(*) FROM memory_foresights WHERE user_id = ?`, userID,
	).Scan(&foresights); err != nil {
		return 0, 0, 0, fmt.Errorf("count foresights: %w", err)
	}
	return episodes, eventLogs, foresights, nil
}

// SearchMemories runs BM25 across all memory types for one user.
func (s *Store) SearchMemories(userID, query string, limit int) ([]MemoryHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT memory_id, memory_type, content, bm25(memory_fts) AS score
		FROM memory_fts
		WHERE memory_fts MATCH ? AND user_id = ?
		ORDER BY score LIMIT ?`,
		match, userID, limit,
	)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var hits []MemoryHit
	for rows.Next() {
		var h MemoryHit
		if err := rows.Scan(&h.MemoryID, &h.MemoryType, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("search memories: scan: %w", err)
		}
		h.Score = -h.Score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
