package cache

import (
	"sync"
	"sync/atomic"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

type Stats struct {
	HitCount  int64 `json:"hit_count"`
	MissCount int64 `json:"miss_count"`
}

// SampleCache is the in-memory, content-addressed analysis cache. It knows
// nothing about file paths: whether a fingerprint is still accurate for a
// given file is the orchestrator's call, which is what lets several paths
// share one entry.
type SampleCache interface {
	Get(fp domain.Fingerprint) (domain.CacheRecord, bool)
	Put(fp domain.Fingerprint, result domain.AnalysisResult, sourceFilename string)
	Invalidate(fp domain.Fingerprint)
	Stats() Stats
	ResetStats()
	Len() int

	// Seed fills the cache from a persisted session document on open.
	Seed(records map[domain.Fingerprint]domain.CacheRecord)
	// Snapshot copies the current entries for merging back into a document.
	Snapshot() map[domain.Fingerprint]domain.CacheRecord
	// Prune drops entries absent from keep and reports how many went.
	Prune(keep map[domain.Fingerprint]bool) int
}

type sampleCache struct {
	log *logger.Logger

	mu      sync.RWMutex
	entries map[domain.Fingerprint]domain.CacheRecord

	hits   atomic.Int64
	misses atomic.Int64
}

func New(log *logger.Logger) SampleCache {
	if log == nil {
		log = logger.Nop()
	}
	return &sampleCache{
		log:     log.With("service", "SampleCache"),
		entries: map[domain.Fingerprint]domain.CacheRecord{},
	}
}

func (c *sampleCache) Get(fp domain.Fingerprint) (domain.CacheRecord, bool) {
	c.mu.RLock()
	rec, ok := c.entries[fp]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return rec, ok
}

func (c *sampleCache) Put(fp domain.Fingerprint, result domain.AnalysisResult, sourceFilename string) {
	rec := domain.CacheRecord{AnalysisResult: result, SourceFilename: sourceFilename}
	rec.Fingerprint = fp
	c.mu.Lock()
	c.entries[fp] = rec
	c.mu.Unlock()
	c.log.Debug("cache put", "fingerprint", fp.Short(), "filename", sourceFilename)
}

func (c *sampleCache) Invalidate(fp domain.Fingerprint) {
	c.mu.Lock()
	_, existed := c.entries[fp]
	delete(c.entries, fp)
	c.mu.Unlock()
	if existed {
		c.log.Debug("cache invalidate", "fingerprint", fp.Short())
	}
}

func (c *sampleCache) Stats() Stats {
	return Stats{HitCount: c.hits.Load(), MissCount: c.misses.Load()}
}

func (c *sampleCache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}

func (c *sampleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *sampleCache) Seed(records map[domain.Fingerprint]domain.CacheRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, rec := range records {
		rec.Fingerprint = fp
		c.entries[fp] = rec
	}
}

func (c *sampleCache) Snapshot() map[domain.Fingerprint]domain.CacheRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.Fingerprint]domain.CacheRecord, len(c.entries))
	for fp, rec := range c.entries {
		out[fp] = rec
	}
	return out
}

func (c *sampleCache) Prune(keep map[domain.Fingerprint]bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for fp := range c.entries {
		if !keep[fp] {
			delete(c.entries, fp)
			removed++
		}
	}
	if removed > 0 {
		c.log.Debug("cache pruned", "removed", removed, "remaining", len(c.entries))
	}
	return removed
}
