// Package memory extracts long-lived user memories from raw
// conversation data and retrieves them later. Extraction is LLM
// driven; storage and keyword retrieval live in the store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
)

// RawDataItem is one piece of input to memorize.
type RawDataItem struct {
	Content  map[string]any `json:"content"`
	DataID   string         `json:"data_id"`
	DataType string         `json:"data_type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemorizeRequest asks the service to extract memories from raw data.
type MemorizeRequest struct {
	RawDataList     []RawDataItem `json:"raw_data_list"`
	UserID          string        `json:"user_id"`
	EnableForesight bool          `json:"enable_foresight"`
	EnableEventLog  bool          `json:"enable_event_log"`
}

// MemorizeResult reports what the extraction produced.
type MemorizeResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	EpisodesCreated   int    `json:"episodes_created"`
	EventLogsCreated  int    `json:"event_logs_created"`
	ForesightsCreated int    `json:"foresights_created"`
	ProfileUpdated    bool   `json:"profile_updated"`
}

// SearchRequest queries a user's memories.
type SearchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// SearchResult carries scored memory matches.
type SearchResult struct {
	Memories   []store.MemoryHit `json:"memories"`
	TotalCount int               `json:"total_count"`
	Query      string            `json:"query"`
	Method     string            `json:"method"`
}

// UserSummary is the per-user memory overview.
type UserSummary struct {
	UserID           string                   `json:"user_id"`
	Profile          *store.ProfileRecord     `json:"profile,omitempty"`
	EpisodesCount    int                      `json:"episodes_count"`
	EventLogsCount   int                      `json:"event_logs_count"`
	ForesightsCount  int                      `json:"foresights_count"`
	RecentEpisodes   []*store.EpisodeRecord   `json:"recent_episodes"`
	RecentForesights []*store.ForesightRecord `json:"recent_foresights"`
}

// Service owns memory extraction and retrieval for all users.
type Service struct {
	store *store.Store
	llm   *clients.LlmClient
	log   *slog.Logger
}

func NewService(st *store.Store, llm *clients.LlmClient, log *slog.Logger) *Service {
	return &Service{store: st, llm: llm, log: log}
}

const extractionPrompt = `You extract structured memories about a user from raw data.
Respond with JSON only, using this shape:
{
  "episodes": [{"summary": "...", "episode": "...", "subject": "..."}],
  "event_logs": [{"atomic_fact": "..."}],
  "foresights": [{"content": "...", "evidence": "..."}],
  "profile": {"user_name": "...", "personality": ["..."], "interests": ["..."]}
}
Episodes are narrative summaries of what happened. Event logs are single atomic facts.
Foresights are predictions or upcoming commitments. Include "profile" only when the
data reveals stable traits. Omit any list with nothing to report.`

type extraction struct {
	Episodes []struct {
		Summary string `json:"summary"`
		Episode string `json:"episode"`
		Subject string `json:"subject"`
	} `json:"episodes"`
	EventLogs []struct {
		AtomicFact string `json:"atomic_fact"`
	} `json:"event_logs"`
	Foresights []struct {
		Content  string `json:"content"`
		Evidence string `json:"evidence"`
	} `json:"foresights"`
	Profile *struct {
		UserName    string   `json:"user_name"`
		Personality []string `json:"personality"`
		Interests   []string `json:"interests"`
	} `json:"profile"`
}

// Memorize extracts and persists memories from the raw data list.
// Items are processed independently; one failing item does not abort
// the rest.
func (s *Service) Memorize(ctx context.Context, req MemorizeRequest) (*MemorizeResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if len(req.RawDataList) == 0 {
		return nil, fmt.Errorf("raw_data_list is empty")
	}

	result := &MemorizeResult{Success: true}
	for _, item := range req.RawDataList {
		ext, err := s.extract(ctx, item)
		if err != nil {
			s.log.Warn("memory extraction failed", "data_id", item.DataID, "error", err)
			continue
		}
		s.persist(req, item, ext, result)
	}

	result.Message = fmt.Sprintf("Created %d episodes, %d event logs, %d foresights",
		result.EpisodesCreated, result.EventLogsCreated, result.ForesightsCreated)
	return result, nil
}

func (s *Service) extract(ctx context.Context, item RawDataItem) (*extraction, error) {
	raw, err := json.Marshal(item.Content)
	if err != nil {
		return nil, err
	}

	out, err := s.llm.ChatComplete(ctx, []clients.Message{
		{Role: "system", Content: extractionPrompt},
		{Role: "user", Content: string(raw)},
	}, 2048)
	if err != nil {
		return nil, err
	}

	var ext extraction
	if err := json.Unmarshal([]byte(extractJSON(out)), &ext); err != nil {
		return nil, fmt.Errorf("malformed extraction JSON: %w", err)
	}
	return &ext, nil
}

func (s *Service) persist(req MemorizeRequest, item RawDataItem, ext *extraction, result *MemorizeResult) {
	var lastEpisodeID string
	for _, ep := range ext.Episodes {
		if strings.TrimSpace(ep.Summary) == "" {
			continue
		}
		rec := &store.EpisodeRecord{
			ID:       uuid.NewString(),
			UserID:   req.UserID,
			Summary:  ep.Summary,
			Episode:  ep.Episode,
			Subject:  ep.Subject,
			Metadata: map[string]any{"data_id": item.DataID},
		}
		if err := s.store.UpsertEpisode(rec); err != nil {
			s.log.Warn("could not save episode", "error", err)
			continue
		}
		lastEpisodeID = rec.ID
		result.EpisodesCreated++
	}

	if req.EnableEventLog {
		for _, ev := range ext.EventLogs {
			if strings.TrimSpace(ev.AtomicFact) == "" {
				continue
			}
			rec := &store.EventLogRecord{
				ID:              uuid.NewString(),
				UserID:          req.UserID,
				AtomicFact:      ev.AtomicFact,
				ParentEpisodeID: lastEpisodeID,
			}
			if err := s.store.UpsertEventLog(rec); err != nil {
				s.log.Warn("could not save event log", "error", err)
				continue
			}
			result.EventLogsCreated++
		}
	}

	if req.EnableForesight {
		for _, fs := range ext.Foresights {
			if strings.TrimSpace(fs.Content) == "" {
				continue
			}
			rec := &store.ForesightRecord{
				ID:              uuid.NewString(),
				UserID:          req.UserID,
				Content:         fs.Content,
				Evidence:        fs.Evidence,
				ParentEpisodeID: lastEpisodeID,
			}
			if err := s.store.UpsertForesight(rec); err != nil {
				s.log.Warn("could not save foresight", "error", err)
				continue
			}
			result.ForesightsCreated++
		}
	}

	if ext.Profile != nil {
		rec := &store.ProfileRecord{
			UserID:      req.UserID,
			UserName:    ext.Profile.UserName,
			Personality: ext.Profile.Personality,
			Interests:   ext.Profile.Interests,
		}
		if err := s.store.UpsertProfile(rec); err != nil {
			s.log.Warn("could not save profile", "error", err)
		} else {
			result.ProfileUpdated = true
		}
	}
}

// Search runs keyword retrieval over all of a user's memory types.
func (s *Service) Search(req SearchRequest) (*SearchResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	hits, err := s.store.SearchMemories(req.UserID, req.Query, limit)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Memories:   hits,
		TotalCount: len(hits),
		Query:      req.Query,
		Method:     "keyword",
	}, nil
}

// UserSummary returns the profile plus counts and recent items.
func (s *Service) UserSummary(userID string) (*UserSummary, error) {
	profile, err := s.store.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	episodes, eventLogs, foresights, err := s.store.CountMemories(userID)
	if err != nil {
		return nil, err
	}
	recentEpisodes, err := s.store.GetEpisodes(userID, 5, 0)
	if err != nil {
		return nil, err
	}
	recentForesights, err := s.store.GetForesights(userID, 5)
	if err != nil {
		return nil, err
	}

	return &UserSummary{
		UserID:           userID,
		Profile:          profile,
		EpisodesCount:    episodes,
		EventLogsCount:   eventLogs,
		ForesightsCount:  foresights,
		RecentEpisodes:   recentEpisodes,
		RecentForesights: recentForesights,
	}, nil
}

// Episodes lists a user's episodic memories.
func (s *Service) Episodes(userID string, limit, offset int) ([]*store.EpisodeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.GetEpisodes(userID, limit, offset)
}

// EventLogs lists a user's atomic facts.
func (s *Service) EventLogs(userID string, limit, offset int) ([]*store.EventLogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.GetEventLogs(userID, limit, offset)
}

// Foresights lists a user's prospective memories.
func (s *Service) Foresights(userID string, limit int) ([]*store.ForesightRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.GetForesights(userID, limit)
}

// extractJSON trims prose and code fences around a JSON object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}
