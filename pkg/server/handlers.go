package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/indexer"
	"github.com/synvo-ai/Local-Cocoa/pkg/memory"
	"github.com/synvo-ai/Local-Cocoa/pkg/search"
)

// healthResponse is the /health payload.
type healthResponse struct {
	Status         string                  `json:"status"`
	IndexedFiles   int                     `json:"indexed_files"`
	WatchedFolders int                     `json:"watched_folders"`
	Message        string                  `json:"message,omitempty"`
	Services       []clients.ServiceStatus `json:"services"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	files, folders, err := s.store.Counts()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	services := []clients.ServiceStatus{
		s.health.Check(ctx, "embedding", s.cfg.Endpoints.Embedding),
		s.health.Check(ctx, "rerank", s.cfg.Endpoints.Rerank),
		s.health.Check(ctx, "llm", s.cfg.Endpoints.LLM),
		s.health.Check(ctx, "vision", s.cfg.Endpoints.Vision),
	}
	if s.cfg.Endpoints.Transcription != "" {
		services = append(services, s.health.Check(ctx, "transcription", s.cfg.Endpoints.Transcription))
	}

	resp := healthResponse{
		IndexedFiles:   files,
		WatchedFolders: folders,
		Services:       services,
	}

	switch s.state.Status().Status {
	case indexer.StatusRunning:
		resp.Status = "indexing"
	case indexer.StatusIdle, indexer.StatusPaused:
		if files > 0 {
			resp.Status = "ready"
		} else {
			resp.Status = "idle"
		}
	default:
		resp.Status = "idle"
	}

	// Unknown counts as degraded too: an unconfigured endpoint means
	// part of the pipeline cannot run.
	for _, svc := range services {
		if svc.Status != clients.StatusOnline {
			resp.Status = "degraded"
			resp.Message = svc.Name + " service is " + svc.Status
			break
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Snapshot())
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	update, err := decodeBody[config.Update](r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	next := update.Apply(s.settings.Snapshot())
	if err := s.settings.Swap(next); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.SaveSettings(s.cfg.DataDir, next); err != nil {
		s.log.Warn("could not persist settings", "error", err)
	}
	s.writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[search.Request](r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	hits, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[search.Request](r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for ev := range s.engine.StreamAnswer(r.Context(), req) {
		line, err := ev.Encode()
		if err != nil {
			s.log.Warn("could not encode event", "error", err)
			continue
		}
		if _, err := w.Write(line); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleQa(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[search.Request](r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Answer(r.Context(), req))
}

func (s *Server) handleMemorize(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[memory.MemorizeRequest](r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.memories.Memorize(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[memory.SearchRequest](r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.memories.Search(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUserSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.memories.UserSummary(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.memories.Episodes(chi.URLParam(r, "userID"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, episodes)
}

func (s *Server) handleEventLogs(w http.ResponseWriter, r *http.Request) {
	events, err := s.memories.EventLogs(chi.URLParam(r, "userID"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleForesights(w http.ResponseWriter, r *http.Request) {
	foresights, err := s.memories.Foresights(chi.URLParam(r, "userID"), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, foresights)
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
