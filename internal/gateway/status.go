package gateway

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/open-resource-discovery/provider-server/internal/version"
)

// RegistryClient resolves the latest published image tag from a container
// registry, with a 2-second cap and 1-hour cache per spec §4.I.
type RegistryClient interface {
	LatestVersion(ctx context.Context) (string, error)
}

// HTTPRegistryClient is the default RegistryClient, backed by net/http
// against a configured OCI registry v2 tags endpoint.
type HTTPRegistryClient struct {
	TagsURL string
	Client  *http.Client

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

func (c *HTTPRegistryClient) LatestVersion(ctx context.Context) (string, error) {
	c.mu.Lock()
	if time.Since(c.cachedAt) < time.Hour && c.cached != "" {
		v := c.cached
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	if c.TagsURL == "" {
		return "", nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.TagsURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	var tags struct {
		Tags []string `json:"tags"`
	}
	if err := decodeJSONBody(resp, &tags); err != nil || len(tags.Tags) == 0 {
		return "", err
	}
	latest := tags.Tags[len(tags.Tags)-1]

	c.mu.Lock()
	c.cached = latest
	c.cachedAt = time.Now()
	c.mu.Unlock()
	return latest, nil
}

// VersionInfo is the current-vs-latest portion of StatusResponse.
type VersionInfo struct {
	Current string `json:"current"`
	Latest  string `json:"latest,omitempty"`
}

// SystemMetrics reports heap and filesystem pressure, per spec §4.I.
type SystemMetrics struct {
	HeapUsedBytes  uint64 `json:"heapUsedBytes"`
	HeapLimitBytes uint64 `json:"heapLimitBytes"`
	DiskUsedBytes  uint64 `json:"diskUsedBytes"`
	DiskTotalBytes uint64 `json:"diskTotalBytes"`
}

// StatusResponse aggregates everything spec §4.I requires: server
// version, version-info, scheduler state, snapshot metadata, settings
// echo, and system metrics.
type StatusResponse struct {
	Version        string         `json:"version"`
	VersionInfo    VersionInfo    `json:"versionInfo"`
	SchedulerState string         `json:"schedulerState"`
	CurrentRunID   string         `json:"currentRunId,omitempty"`
	LastUpdateTime time.Time      `json:"lastUpdateTime,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	Snapshot       map[string]any `json:"snapshot,omitempty"`
	Settings       SettingsEcho   `json:"settings"`
	Metrics        SystemMetrics  `json:"metrics"`
	StartTime      time.Time      `json:"startTime"`
}

func (g *Gateway) buildStatusResponse(ctx context.Context) StatusResponse {
	st := g.scheduler.Status()

	var latest string
	if g.registry != nil {
		latest, _ = g.registry.LatestVersion(ctx)
	}

	var snapMeta map[string]any
	if meta, ok := g.snapshotMgr.LoadMetadata(); ok {
		snapMeta = map[string]any{
			"commitHash": meta.CommitHash,
			"fetchTime":  meta.FetchTime,
			"branch":     meta.Branch,
			"repository": meta.Repository,
			"totalFiles": meta.TotalFiles,
		}
	}

	return StatusResponse{
		Version:        version.String(),
		VersionInfo:    VersionInfo{Current: version.String(), Latest: latest},
		SchedulerState: string(st.State),
		CurrentRunID:   st.CurrentRunID,
		LastUpdateTime: st.LastUpdateTime,
		LastError:      st.LastError,
		Snapshot:       snapMeta,
		Settings:       g.settings,
		Metrics:        collectSystemMetrics(g.snapshotMgr.DataDir()),
		StartTime:      g.startTime,
	}
}

func collectSystemMetrics(dataDir string) SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := SystemMetrics{HeapUsedBytes: mem.HeapAlloc, HeapLimitBytes: mem.HeapSys}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dataDir, &stat); err == nil {
		m.DiskTotalBytes = stat.Blocks * uint64(stat.Bsize)
		m.DiskUsedBytes = m.DiskTotalBytes - stat.Bfree*uint64(stat.Bsize)
	}
	return m
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.buildStatusResponse(r.Context()))
}

// handleStatusDashboard serves an HTML dashboard, or redirects to the
// well-known configuration endpoint when the dashboard is disabled.
func (g *Gateway) handleStatusDashboard(w http.ResponseWriter, r *http.Request) {
	if !g.statusDashboard {
		http.Redirect(w, r, wellKnownPath, http.StatusFound)
		return
	}
	status := g.buildStatusResponse(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(renderDashboard(status)))
}
