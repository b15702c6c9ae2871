// Package gateway implements the HTTP Router, Webhook Endpoint, Status
// Service, Push Channel, and startup/shutdown lifecycle (spec §4.G–§4.J),
// built on stdlib net/http.ServeMux with Go 1.22+ method+pattern routing,
// directly grounded on the teacher's internal/server/server.go.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/open-resource-discovery/provider-server/internal/apperr"
	"github.com/open-resource-discovery/provider-server/internal/auth"
	"github.com/open-resource-discovery/provider-server/internal/docrepo"
	"github.com/open-resource-discovery/provider-server/internal/ordproc"
	"github.com/open-resource-discovery/provider-server/internal/scheduler"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
	"github.com/open-resource-discovery/provider-server/internal/version"
)

const wellKnownPath = "/.well-known/open-resource-discovery"

// Gateway wires the router, webhook handler, status service, and push
// channel over a shared set of domain components.
type Gateway struct {
	processor       *ordproc.Processor
	repo            *docrepo.Repository
	scheduler       *scheduler.Scheduler
	snapshotMgr     *snapshot.Manager
	pipeline        *auth.Pipeline
	broadcaster     *Broadcaster
	registry        RegistryClient
	webhookSecret   string
	configuredBranch string
	documentsSubdir string
	statusDashboard bool
	startTime       time.Time
	settings        SettingsEcho
	logger          *slog.Logger

	httpSrv *http.Server
}

// SettingsEcho is the "settings echo" portion of StatusResponse (spec
// §4.I): a snapshot of the non-secret configuration values operators care
// about when diagnosing a deployment.
type SettingsEcho struct {
	SourceType      string `json:"sourceType"`
	BaseURL         string `json:"baseUrl"`
	DirectoryDisplay string `json:"directoryDisplay"`
	AuthMethods     []string `json:"authMethods"`
	GithubRepository string `json:"githubRepository,omitempty"`
	GithubBranch    string `json:"githubBranch,omitempty"`
	UpdateDelayMS   int64  `json:"updateDelayMs"`
}

// New constructs a Gateway. webhookSecret may be empty, disabling
// signature verification (not recommended, but matches spec §4.H's "if a
// secret is configured" wording).
func New(
	processor *ordproc.Processor,
	repo *docrepo.Repository,
	sched *scheduler.Scheduler,
	snapshotMgr *snapshot.Manager,
	pipeline *auth.Pipeline,
	registry RegistryClient,
	webhookSecret, configuredBranch, documentsSubdir string,
	statusDashboard bool,
	settings SettingsEcho,
	logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		processor:        processor,
		repo:             repo,
		scheduler:        sched,
		snapshotMgr:      snapshotMgr,
		pipeline:         pipeline,
		broadcaster:      NewBroadcaster(),
		registry:         registry,
		webhookSecret:    webhookSecret,
		configuredBranch: configuredBranch,
		documentsSubdir:  documentsSubdir,
		statusDashboard:  statusDashboard,
		startTime:        time.Now(),
		settings:         settings,
		logger:           logger,
	}
	if sched != nil {
		sched.Subscribe(g.relayEvent)
	}
	return g
}

// relayEvent forwards a scheduler lifecycle event onto the push channel,
// so connected clients see update-started/progress/completed/failed
// frames as they happen rather than only on a status poll.
func (g *Gateway) relayEvent(ev scheduler.Event) {
	errMsg, _ := ev.Data["error"].(string)
	g.broadcaster.Send(Frame{
		Type:  string(ev.Kind),
		RunID: ev.RunID,
		Data:  ev.Data,
		Error: errMsg,
	})
}

// Handler builds the full route table as a single http.Handler. The
// version-header middleware wraps every route; the auth gate wraps the
// /ord/v1, status, dashboard and push routes, while the well-known
// configuration endpoint, /health and the webhook (which checks its own
// HMAC signature) are not behind it. ETags are set per handler via
// writeETag.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+wellKnownPath, g.handleWellKnown)
	mux.HandleFunc("GET /ord/v1/", g.requireAuth(g.handleOrdPath))
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /api/v1/status", g.requireAuth(g.handleStatus))
	mux.HandleFunc("GET /status", g.requireAuth(g.handleStatusDashboard))
	mux.HandleFunc("POST /api/v1/webhook/github", g.handleWebhook)
	mux.HandleFunc("GET /ws", g.requireAuth(g.handlePush))

	return g.versionHeaderMiddleware(mux)
}

// versionHeaderMiddleware applies the x-ord-provider-server-version header
// to every response, per spec §6.
func (g *Gateway) versionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ord-provider-server-version", version.String())
		next.ServeHTTP(w, r)
	})
}

// requireAuth gates a handler behind the configured auth pipeline. The
// well-known configuration endpoint bypasses auth by design and is never
// wrapped with this.
func (g *Gateway) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.pipeline == nil || g.pipeline.Authenticate(r) {
			next(w, r)
			return
		}
		writeAppError(w, apperr.Unauthorized("authentication required"))
	}
}

func (g *Gateway) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	cfg, err := g.processor.GetORDConfiguration()
	if err != nil {
		writeAppError(w, err)
		return
	}
	if writeETag(w, r, g.repo, wellKnownPath) {
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.String(),
		"timestamp": time.Now().UTC(),
	})
}

// handleOrdPath implements spec §4.G's three /ord/v1/* route families:
// the documents-subdirectory tree, raw root-level files, and
// ordId-addressed resource files (via the FQN map with a filesystem
// fallback).
func (g *Gateway) handleOrdPath(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/ord/v1/")
	rel = strings.TrimSuffix(rel, "/")
	if rel == "" {
		writeAppError(w, apperr.NotFound("no path given"))
		return
	}

	firstSeg, _, _ := strings.Cut(rel, "/")

	if firstSeg == g.documentsSubdir {
		relPath := rel
		if !strings.HasSuffix(relPath, ".json") {
			relPath += ".json"
		}
		doc, err := g.processor.GetDocument(relPath)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if writeETag(w, r, g.repo, rel) {
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	if firstSeg == ".well-known" {
		writeAppError(w, apperr.NotFound("reserved path segment"))
		return
	}

	if fqnTarget, ok := g.processor.GetFQNMap()[firstSeg]; ok {
		g.serveResourcePath(w, r, strings.TrimPrefix(fqnTarget, "/ord/v1/"))
		return
	}

	if !strings.Contains(rel, "/") {
		g.serveRootFile(w, r, rel)
		return
	}

	// Fallback: ordId-with-colons-as-underscores/<remaining path>, per
	// spec §4.G's documented fallback when the FQN map has no entry.
	encoded := strings.ReplaceAll(firstSeg, ":", "_")
	remainder := strings.TrimPrefix(rel, firstSeg+"/")
	g.serveResourcePath(w, r, encoded+"/"+remainder)
}

func (g *Gateway) serveRootFile(w http.ResponseWriter, r *http.Request, relPath string) {
	b, err := g.repo.GetFileContent(relPath)
	if err != nil {
		writeAppError(w, apperr.NotFound("file not found: %s", relPath))
		return
	}
	if writeETag(w, r, g.repo, relPath) {
		return
	}
	if strings.HasSuffix(relPath, ".json") {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Write(b)
}

func (g *Gateway) serveResourcePath(w http.ResponseWriter, r *http.Request, relPath string) {
	if strings.HasSuffix(relPath, ".json") {
		if doc := g.repo.GetDocument(relPath); doc != nil {
			processed, err := g.processor.GetDocument(relPath)
			if err != nil {
				writeAppError(w, err)
				return
			}
			if writeETag(w, r, g.repo, relPath) {
				return
			}
			writeJSON(w, http.StatusOK, processed)
			return
		}
	}
	b, err := g.repo.GetFileContent(relPath)
	if err != nil {
		writeAppError(w, apperr.NotFound("resource not found: %s", relPath))
		return
	}
	if writeETag(w, r, g.repo, relPath) {
		return
	}
	w.Write(b)
}

// Shutdown drains the HTTP server with a bounded timeout, matching the
// teacher's Server.Shutdown.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.broadcaster.Close()
	if g.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return g.httpSrv.Shutdown(shutdownCtx)
}

// Serve binds addr and blocks until the server is shut down.
func (g *Gateway) Serve(addr string) error {
	g.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      g.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the push channel needs long-lived writes
		IdleTimeout:  120 * time.Second,
	}
	err := g.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
