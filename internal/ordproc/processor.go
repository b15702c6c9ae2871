// Package ordproc implements the Document Processor & Cache (spec §4.D):
// per-document URL rewriting, access-strategy attachment, perspective
// defaulting, and a fingerprint-epoch cache with a cooperative background
// warmer.
package ordproc

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/open-resource-discovery/provider-server/internal/apperr"
)

const ordAPIPrefix = "/ord/v1"

// AccessStrategy mirrors the ORD accessStrategies entry shape.
type AccessStrategy struct {
	Type string `json:"type"`
}

// FingerprintSource resolves the directory fingerprint a document set was
// produced from; normally internal/docrepo.Repository.GetDirectoryHash.
type FingerprintSource interface {
	GetDirectoryHash(dirRel string) string
}

// DocumentSource is the read side of internal/docrepo.Repository that the
// processor needs.
type DocumentSource interface {
	GetDocuments(dirRel string) map[string]map[string]any
	GetDocument(relPath string) map[string]any
}

// Processor applies spec §4.D's five document transformations and caches
// the result per directory fingerprint.
type Processor struct {
	repo            DocumentSource
	fingerprints    FingerprintSource
	validator       Validator
	baseURL         string
	documentsSubdir string
	accessStrategies []AccessStrategy
	logger          *slog.Logger

	epoch atomic.Pointer[cacheEpoch]

	warmMu     sync.Mutex
	warmFP     string
	warmCancel context.CancelFunc
}

// New constructs a Processor. accessStrategies is the static list attached
// to every resourceDefinition, derived once by the caller from the
// configured authentication methods (open → [{type:"open"}]; basic/mtls →
// [{type:"sap:cmp-mtls:v1"}]).
func New(repo DocumentSource, fingerprints FingerprintSource, validator Validator, baseURL, documentsSubdir string, accessStrategies []AccessStrategy, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = NoopValidator{}
	}
	return &Processor{
		repo:             repo,
		fingerprints:     fingerprints,
		validator:        validator,
		baseURL:          baseURL,
		documentsSubdir:  documentsSubdir,
		accessStrategies: accessStrategies,
		logger:           logger,
	}
}

// currentEpoch returns the cache epoch for the current fingerprint,
// installing a fresh (empty) one if the fingerprint has changed since the
// last observation. This is the atomic all-four-maps-at-once swap that
// backs Testable Property 2: a reader never sees processedDocument entries
// from one fingerprint mixed with an ordConfig from another.
func (p *Processor) currentEpoch() *cacheEpoch {
	fp := p.fingerprints.GetDirectoryHash(p.documentsSubdir)
	for {
		cur := p.epoch.Load()
		if cur != nil && cur.fingerprint == fp {
			return cur
		}
		fresh := newCacheEpoch(fp)
		if p.epoch.CompareAndSwap(cur, fresh) {
			return fresh
		}
	}
}

// GetDocument returns the processed document at relPath, computing and
// caching it on a miss. Readers racing a background warmer never block;
// whichever computation finishes last simply overwrites the cache entry.
func (p *Processor) GetDocument(relPath string) (map[string]any, error) {
	epoch := p.currentEpoch()
	if doc, ok := epoch.getDocument(relPath); ok {
		return doc, nil
	}

	raw := p.repo.GetDocument(relPath)
	if raw == nil {
		return nil, apperr.NotFound("document not found: %s", relPath)
	}
	if err := p.validator.Validate(raw); err != nil {
		return nil, apperr.ValidationFailed("document failed schema validation: %s: %v", relPath, err)
	}

	processed := p.process(raw, epoch.fingerprint)
	epoch.putDocument(relPath, processed)
	return processed, nil
}

// GetDocuments returns every processed document under the documents
// subdirectory, also populating the documentPaths cache entry.
func (p *Processor) GetDocuments() (map[string]map[string]any, error) {
	epoch := p.currentEpoch()
	if paths, ok := epoch.getPaths(); ok {
		out := make(map[string]map[string]any, len(paths))
		for _, relPath := range paths {
			doc, err := p.GetDocument(relPath)
			if err != nil {
				continue
			}
			out[relPath] = doc
		}
		return out, nil
	}

	raw := p.repo.GetDocuments(p.documentsSubdir)
	paths := make([]string, 0, len(raw))
	out := make(map[string]map[string]any, len(raw))
	for relPath, doc := range raw {
		if err := p.validator.Validate(doc); err != nil {
			p.logger.Warn("document failed schema validation, skipping", "path", relPath, "error", err)
			continue
		}
		processed := p.process(doc, epoch.fingerprint)
		epoch.putDocument(relPath, processed)
		out[relPath] = processed
		paths = append(paths, relPath)
	}
	epoch.putPaths(paths)
	p.buildFQNMap(epoch, out)
	return out, nil
}

// GetORDConfiguration builds the ORD Configuration document (served at
// /.well-known/open-resource-discovery) listing every discoverable document
// URL with its access strategies.
func (p *Processor) GetORDConfiguration() (map[string]any, error) {
	epoch := p.currentEpoch()
	if cfg, ok := epoch.getConfig(); ok {
		return cfg, nil
	}
	docs, err := p.GetDocuments()
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(docs))
	for relPath := range docs {
		entries = append(entries, map[string]any{
			"url":             path.Join(ordAPIPrefix, p.documentsSubdir, strings.TrimPrefix(relPath, p.documentsSubdir+"/")),
			"accessStrategies": p.accessStrategyList(),
		})
	}
	cfg := map[string]any{
		"openResourceDiscoveryV1": map[string]any{
			"documents": entries,
		},
	}
	epoch.putConfig(cfg)
	return cfg, nil
}

// GetFQNMap returns ordId → rewritten resource URL, populated as a side
// effect of GetDocuments.
func (p *Processor) GetFQNMap() map[string]string {
	epoch := p.currentEpoch()
	m, _ := epoch.getFQNMap()
	return m
}

func (p *Processor) buildFQNMap(epoch *cacheEpoch, docs map[string]map[string]any) {
	m := map[string]string{}
	for _, doc := range docs {
		for _, key := range []string{"apiResources", "eventResources"} {
			resources, _ := doc[key].([]any)
			for _, r := range resources {
				res, ok := r.(map[string]any)
				if !ok {
					continue
				}
				ordID, _ := res["ordId"].(string)
				if ordID == "" {
					continue
				}
				defs, _ := res["resourceDefinitions"].([]any)
				for _, d := range defs {
					def, ok := d.(map[string]any)
					if !ok {
						continue
					}
					if url, ok := def["url"].(string); ok {
						m[ordID] = url
					}
				}
			}
		}
	}
	epoch.putFQNMap(m)
}

func (p *Processor) accessStrategyList() []map[string]string {
	out := make([]map[string]string, 0, len(p.accessStrategies))
	for _, s := range p.accessStrategies {
		out = append(out, map[string]string{"type": s.Type})
	}
	return out
}

// process applies the five document transformations of spec §4.D in
// order: URL rewrite, access strategies, perspective default,
// describedSystemVersion injection, baseUrl overwrite.
func (p *Processor) process(raw map[string]any, fingerprint string) map[string]any {
	doc := deepCopyMap(raw)

	for _, key := range []string{"apiResources", "eventResources"} {
		resources, _ := doc[key].([]any)
		for _, r := range resources {
			res, ok := r.(map[string]any)
			if !ok {
				continue
			}
			ordID, _ := res["ordId"].(string)
			defs, _ := res["resourceDefinitions"].([]any)
			for _, d := range defs {
				def, ok := d.(map[string]any)
				if !ok {
					continue
				}
				if url, ok := def["url"].(string); ok {
					def["url"] = rewriteURL(url, ordID)
				}
				def["accessStrategies"] = p.accessStrategyList()
			}
		}
	}

	perspective, _ := doc["perspective"].(string)
	if perspective == "" {
		perspective = "system-instance"
		doc["perspective"] = perspective
	}

	if perspective == "system-version" {
		if _, has := doc["describedSystemVersion"]; !has {
			doc["describedSystemVersion"] = map[string]any{
				"version": "1.0.0-" + firstN(fingerprint, 8),
			}
		}
	}

	if inst, ok := doc["describedSystemInstance"].(map[string]any); ok {
		inst["baseUrl"] = p.baseURL
	} else {
		doc["describedSystemInstance"] = map[string]any{"baseUrl": p.baseURL}
	}

	return doc
}

// rewriteURL implements spec §4.D step 1. The ordId segment appears in the
// URL with colons replaced by underscores (a filesystem-safe encoding);
// that segment is restored to the real ordId. Absolute http(s) URLs pass
// through unchanged; everything else is anchored under /ord/v1.
func rewriteURL(url, ordID string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}

	encoded := strings.ReplaceAll(ordID, ":", "_")
	segments := strings.Split(url, "/")
	for i, seg := range segments {
		if seg == encoded && encoded != "" {
			segments[i] = ordID
		}
	}
	fixed := strings.Join(segments, "/")

	return ordAPIPrefix + path.Clean("/"+fixed)
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return deepCopyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
