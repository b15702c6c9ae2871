package ordproc

import "sync"

// cacheEpoch holds every cache keyed to a single fingerprint. The four maps
// are always swapped together via an atomic.Pointer in Processor, so a
// reader never observes processedDocument entries from one fingerprint
// alongside an ordConfig from another (Testable Property 2).
type cacheEpoch struct {
	fingerprint string

	mu                sync.RWMutex
	processedDocument map[string]map[string]any
	ordConfig         map[string]any
	documentPaths     []string
	fqnMap            map[string]string
}

func newCacheEpoch(fingerprint string) *cacheEpoch {
	return &cacheEpoch{
		fingerprint:       fingerprint,
		processedDocument: map[string]map[string]any{},
		fqnMap:            map[string]string{},
	}
}

func (c *cacheEpoch) getDocument(relPath string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.processedDocument[relPath]
	return d, ok
}

// putDocument race-free inserts; the last writer for a given key wins,
// which is fine since two concurrent computations for the same key and
// fingerprint are guaranteed to produce equivalent output.
func (c *cacheEpoch) putDocument(relPath string, doc map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processedDocument[relPath] = doc
}

func (c *cacheEpoch) getConfig() (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ordConfig == nil {
		return nil, false
	}
	return c.ordConfig, true
}

func (c *cacheEpoch) putConfig(cfg map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ordConfig = cfg
}

func (c *cacheEpoch) getPaths() ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.documentPaths == nil {
		return nil, false
	}
	return c.documentPaths, true
}

func (c *cacheEpoch) putPaths(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documentPaths = paths
}

func (c *cacheEpoch) getFQNMap() (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.fqnMap) == 0 {
		return nil, false
	}
	return c.fqnMap, true
}

func (c *cacheEpoch) putFQNMap(m map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fqnMap = m
}
