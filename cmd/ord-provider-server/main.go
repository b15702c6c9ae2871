// Command ord-provider-server runs the Open Resource Discovery HTTP
// gateway: it serves ORD documents out of a periodically refreshed
// content snapshot, fetched either from a local directory or a GitHub
// repository, per spec §4.J.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-resource-discovery/provider-server/internal/auth"
	"github.com/open-resource-discovery/provider-server/internal/config"
	"github.com/open-resource-discovery/provider-server/internal/docrepo"
	"github.com/open-resource-discovery/provider-server/internal/fetcher"
	"github.com/open-resource-discovery/provider-server/internal/gateway"
	"github.com/open-resource-discovery/provider-server/internal/ordproc"
	"github.com/open-resource-discovery/provider-server/internal/scheduler"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
	"github.com/open-resource-discovery/provider-server/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		return 1
	}

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	snapshotMgr := snapshot.New(cfg.DataDir, cfg.OrdDocumentsSubDirectory, logger)
	if err := snapshotMgr.Initialize(); err != nil {
		logger.Error("snapshot manager init failed", "error", err)
		return 1
	}

	contentFetcher := buildFetcher(cfg, logger)

	repo := docrepo.New(snapshotMgr.CurrentPath(), cfg.OrdDocumentsSubDirectory, snapshotMgr, logger)

	validator, err := buildValidator(cfg)
	if err != nil {
		logger.Error("schema load failed", "error", err)
		return 1
	}

	accessStrategies := buildAccessStrategies(cfg)
	processor := ordproc.New(repo, repo, validator, cfg.BaseURL, cfg.OrdDocumentsSubDirectory, accessStrategies, logger)

	sched := scheduler.New(snapshotMgr, contentFetcher, processor, time.Duration(cfg.UpdateDelayMS)*time.Millisecond, logger)
	sched.Initialize()

	pipeline, err := buildAuthPipeline(cfg, logger)
	if err != nil {
		logger.Error("auth pipeline config invalid", "error", err)
		return 1
	}

	settings := gateway.SettingsEcho{
		SourceType:       string(cfg.SourceType),
		BaseURL:          cfg.BaseURL,
		DirectoryDisplay: cfg.OrdDocumentsSubDirectory,
		AuthMethods:      authMethodStrings(cfg.Authentication.Methods),
		GithubRepository: cfg.GithubRepository,
		GithubBranch:     cfg.GithubBranch,
		UpdateDelayMS:    int64(cfg.UpdateDelayMS),
	}

	gw := gateway.New(
		processor, repo, sched, snapshotMgr, pipeline,
		&gateway.HTTPRegistryClient{},
		cfg.WebhookSecret, cfg.GithubBranch, cfg.OrdDocumentsSubDirectory,
		cfg.StatusDashboardEnabled, settings, logger,
	)

	var wg doneGroup
	wg.Go(func() { sched.Run(ctx) })

	if err := gw.Startup(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		sched.Stop()
		wg.Wait()
		return 1
	}

	logger.Info("ord-provider-server starting", "addr", cfg.Addr(), "sourceType", cfg.SourceType)

	serveErrCh := make(chan error, 1)
	wg.Go(func() {
		serveErrCh <- gw.Serve(cfg.Addr())
	})

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("listener failed", "error", err)
			sched.Stop()
			wg.Wait()
			return 1
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown reported an error", "error", err)
	}
	sched.Stop()
	wg.Wait()
	return 0
}

// buildFetcher selects the Content Fetcher implementation per spec §4.B.
// Both branches populate current/ through the same ForceUpdate path at
// startup (gateway.Startup) — a local source still has to be copied into
// the snapshot layout before the Document Repository has anything to
// read, exactly like a fresh git clone would.
func buildFetcher(cfg *config.Config, logger *slog.Logger) fetcher.ContentFetcher {
	switch cfg.SourceType {
	case config.SourceGithub:
		cloneURL := "https://github.com/" + cfg.GithubRepository + ".git"
		return fetcher.NewGitFetcher(cloneURL, cfg.GithubBranch, cfg.GithubRepository, cfg.GithubToken, logger)
	default:
		return fetcher.NewLocalFetcher(cfg.OrdDirectory)
	}
}

// buildValidator compiles the ORD document JSON Schema that
// ordproc.Processor validates every document against (spec §4.D): the
// embedded default unless cfg.SchemaPath points at a replacement.
func buildValidator(cfg *config.Config) (ordproc.Validator, error) {
	schemaJSON := ordproc.DefaultSchemaJSON
	if cfg.SchemaPath != "" {
		b, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema file: %w", err)
		}
		schemaJSON = b
	}
	v, err := ordproc.NewSchemaValidator(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile ORD document schema: %w", err)
	}
	return v, nil
}

// buildAccessStrategies derives the ORD Configuration's accessStrategies
// entry from the configured authentication methods (spec §4.A/§4.F): an
// open deployment advertises "open", anything requiring credentials
// advertises SAP CF's mTLS access strategy identifier.
func buildAccessStrategies(cfg *config.Config) []ordproc.AccessStrategy {
	for _, m := range cfg.Authentication.Methods {
		if m != config.AuthOpen {
			return []ordproc.AccessStrategy{{Type: "sap:cmp-mtls:v1"}}
		}
	}
	return []ordproc.AccessStrategy{{Type: "open"}}
}

func buildAuthPipeline(cfg *config.Config, logger *slog.Logger) (*auth.Pipeline, error) {
	strategies := make([]auth.Strategy, 0, len(cfg.Authentication.Methods))
	for _, m := range cfg.Authentication.Methods {
		switch m {
		case config.AuthOpen:
			strategies = append(strategies, auth.OpenStrategy{})
		case config.AuthBasic:
			strategies = append(strategies, auth.NewBasicStrategy(cfg.Authentication.BasicAuthUsers))
		case config.AuthMTLS:
			strategies = append(strategies, auth.NewMTLSHeaderStrategy(
				cfg.Authentication.SAPCFMTLS.TrustedIssuers,
				cfg.Authentication.SAPCFMTLS.TrustedSubjects,
				cfg.Authentication.SAPCFMTLS.DecodeBase64Headers,
				logger,
			))
		default:
			return nil, fmt.Errorf("unknown authentication method %q", m)
		}
	}
	return auth.NewPipeline(strategies...), nil
}

func authMethodStrings(methods []config.AuthMethod) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

// signalCancelContext mirrors the teacher's cmd/kilroy signal handling:
// SIGINT/SIGTERM cancel the returned context with a cause so shutdown
// logging can report why the process is stopping.
func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

// doneGroup is a minimal WaitGroup-backed fan-in for the scheduler and
// HTTP server goroutines, avoiding sync.WaitGroup boilerplate at each call
// site.
type doneGroup struct {
	chans []chan struct{}
}

func (g *doneGroup) Go(fn func()) {
	done := make(chan struct{})
	g.chans = append(g.chans, done)
	go func() {
		defer close(done)
		fn()
	}()
}

func (g *doneGroup) Wait() {
	for _, ch := range g.chans {
		<-ch
	}
}
