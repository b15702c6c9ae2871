package gateway

import (
	"context"
	"fmt"
)

// Startup implements spec §4.J's startup warmup: if no current/ snapshot
// exists, an initial fetch is mandatory and its failure is fatal; if one
// exists, a staleness check runs and updates opportunistically, falling
// back to the cached snapshot on failure. This applies equally to local
// and remote sources — a local ordDirectory still has to be copied into
// current/ by the Content Fetcher before the Document Repository has
// anything to read, exactly like a fresh git clone would.
func (g *Gateway) Startup(ctx context.Context) error {
	// Initialize always creates current/<documentsSubdir>/, so a snapshot
	// counts as present only once metadata from a successful swap exists.
	_, hasMeta := g.snapshotMgr.LoadMetadata()
	if !hasMeta || !g.snapshotMgr.HasCurrentContent() {
		if err := g.scheduler.ForceUpdate(ctx); err != nil {
			return fmt.Errorf("mandatory initial fetch failed: %w", err)
		}
		return nil
	}

	if err := g.scheduler.CheckForUpdates(ctx); err != nil {
		g.logger.Warn("startup staleness check failed, continuing with cached content", "error", err)
	}
	return nil
}
