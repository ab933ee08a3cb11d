package clients

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ServiceStatus is the probe result for one upstream service.
type ServiceStatus struct {
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Details   string  `json:"details,omitempty"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusUnknown = "unknown"
)

// HealthCache probes upstream services and caches the result so that
// frequent health polling does not compete with indexing I/O.
// Entries are keyed by "name:url".
type HealthCache struct {
	ttl    time.Duration
	client *http.Client

	mu      sync.Mutex
	entries map[string]cachedStatus
}

type cachedStatus struct {
	status  ServiceStatus
	expires time.Time
}

// NewHealthCache builds a cache with the standard 10s TTL and 2s
// probe timeout.
func NewHealthCache() *HealthCache {
	return &HealthCache{
		ttl:     10 * time.Second,
		client:  &http.Client{Timeout: 2 * time.Second},
		entries: make(map[string]cachedStatus),
	}
}

// Check probes one service, serving from cache when fresh. An empty
// URL reports unknown without probing.
func (h *HealthCache) Check(ctx context.Context, name, url string) ServiceStatus {
	if url == "" {
		return ServiceStatus{Name: name, Status: StatusUnknown, Details: "URL not configured"}
	}

	key := name + ":" + url
	h.mu.Lock()
	if entry, ok := h.entries[key]; ok && time.Now().Before(entry.expires) {
		h.mu.Unlock()
		return entry.status
	}
	h.mu.Unlock()

	status := h.probe(ctx, name, url)

	h.mu.Lock()
	h.entries[key] = cachedStatus{status: status, expires: time.Now().Add(h.ttl)}
	h.mu.Unlock()
	return status
}

// probe tries GET <url>/health and falls back to GET <url> on 404.
// Anything under 500 counts as online: the service is reachable even
// when it dislikes the request.
func (h *HealthCache) probe(ctx context.Context, name, url string) ServiceStatus {
	base := trimSlash(url)
	start := time.Now()

	resp, err := h.get(ctx, base+"/health")
	if err == nil && resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		resp, err = h.get(ctx, base)
	}
	if err != nil {
		return ServiceStatus{Name: name, Status: StatusOffline, Details: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 500 {
		latency := float64(time.Since(start).Microseconds()) / 1000.0
		return ServiceStatus{Name: name, Status: StatusOnline, LatencyMs: latency}
	}
	return ServiceStatus{Name: name, Status: StatusOffline, Details: "HTTP " + resp.Status}
}

func (h *HealthCache) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return h.client.Do(req)
}
