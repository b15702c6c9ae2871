package ordproc

import "context"

// Warm starts (or joins) a background cache-warming pass for the current
// fingerprint, per spec §4.D's concurrency contract: at most one warmer per
// fingerprint runs at a time; a second Warm call for the same fingerprint
// is a no-op (it joins the one in flight); a call for a different,
// newer fingerprint cancels the running warmer and starts the new one
// right away, without waiting for the cancelled one to exit, so the two
// can overlap until the old one reaches its next cancellation check.
// Warm never blocks the request path — it is
// meant to be invoked from the scheduler after step 7 of the update
// algorithm, not from a handler goroutine.
func (p *Processor) Warm(ctx context.Context) {
	fp := p.fingerprints.GetDirectoryHash(p.documentsSubdir)

	p.warmMu.Lock()
	if p.warmFP == fp && p.warmCancel != nil {
		p.warmMu.Unlock()
		return
	}
	if p.warmCancel != nil {
		p.warmCancel()
	}
	warmCtx, cancel := context.WithCancel(ctx)
	p.warmFP = fp
	p.warmCancel = cancel
	p.warmMu.Unlock()

	go p.runWarmer(warmCtx, fp)
}

// runWarmer walks every document under the documents subdirectory,
// forcing GetDocument for each, checking the cancellation channel every
// 10 documents so an aborted warmer does not waste arbitrarily long spans
// of CPU on content that is about to be discarded anyway.
func (p *Processor) runWarmer(ctx context.Context, fp string) {
	defer func() {
		p.warmMu.Lock()
		if p.warmFP == fp {
			p.warmCancel = nil
		}
		p.warmMu.Unlock()
	}()

	epoch := p.currentEpoch()
	if epoch.fingerprint != fp {
		return // superseded before the goroutine even started
	}

	raw := p.repo.GetDocuments(p.documentsSubdir)
	paths := make([]string, 0, len(raw))
	for relPath := range raw {
		paths = append(paths, relPath)
	}

	for i, relPath := range paths {
		if i%10 == 0 {
			select {
			case <-ctx.Done():
				p.logger.Debug("cache warmer aborted", "fingerprint", fp, "processed", i, "total", len(paths))
				return
			default:
			}
		}
		if _, err := p.GetDocument(relPath); err != nil {
			p.logger.Debug("warmer skipped document", "path", relPath, "error", err)
		}
	}

	if _, err := p.GetORDConfiguration(); err != nil {
		p.logger.Warn("warmer failed to build ORD configuration", "error", err)
	}
	p.logger.Info("cache warmer completed", "fingerprint", fp, "documents", len(paths))
}
