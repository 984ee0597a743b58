package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/yungbote/samplegrid/internal/domain"
)

func fp(seed string) domain.Fingerprint {
	return domain.Fingerprint(strings.Repeat(seed, 32))
}

func result(fingerprint domain.Fingerprint, midi int) domain.AnalysisResult {
	return domain.AnalysisResult{
		Fingerprint:  fingerprint,
		DetectedMIDI: midi,
		Amplitude:    0.5,
		Confidence:   0.9,
		AnalyzedAt:   time.Now().UTC(),
	}
}

func TestGetPutAndStats(t *testing.T) {
	c := New(nil)
	key := fp("ab")

	if _, ok := c.Get(key); ok {
		t.Fatalf("empty cache should miss")
	}
	if s := c.Stats(); s.MissCount != 1 || s.HitCount != 0 {
		t.Fatalf("stats after miss = %+v", s)
	}

	c.Put(key, result(key, 60), "c4.wav")
	rec, ok := c.Get(key)
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if rec.DetectedMIDI != 60 || rec.SourceFilename != "c4.wav" {
		t.Fatalf("wrong record back: %+v", rec)
	}
	if s := c.Stats(); s.HitCount != 1 || s.MissCount != 1 {
		t.Fatalf("stats after hit = %+v", s)
	}

	c.ResetStats()
	if s := c.Stats(); s.HitCount != 0 || s.MissCount != 0 {
		t.Fatalf("stats after reset = %+v", s)
	}
}

func TestPutStampsFingerprint(t *testing.T) {
	c := New(nil)
	key := fp("ab")

	r := result(key, 60)
	r.Fingerprint = ""
	c.Put(key, r, "c4.wav")

	rec, _ := c.Get(key)
	if rec.Fingerprint != key {
		t.Fatalf("put should stamp the key onto the record, got %q", rec.Fingerprint)
	}
}

func TestInvalidate(t *testing.T) {
	c := New(nil)
	key := fp("ab")
	c.Put(key, result(key, 60), "c4.wav")

	c.Invalidate(key)
	if _, ok := c.Get(key); ok {
		t.Fatalf("invalidated entry still present")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d after invalidate", c.Len())
	}

	// Invalidating an absent key is a no-op.
	c.Invalidate(fp("cd"))
}

func TestSeedAndSnapshot(t *testing.T) {
	c := New(nil)
	a, b := fp("ab"), fp("cd")
	seed := map[domain.Fingerprint]domain.CacheRecord{
		a: {AnalysisResult: result(a, 60), SourceFilename: "a.wav"},
		b: {AnalysisResult: result(b, 62), SourceFilename: "b.wav"},
	}
	c.Seed(seed)
	if c.Len() != 2 {
		t.Fatalf("Len = %d after seed, want 2", c.Len())
	}

	snap := c.Snapshot()
	if len(snap) != 2 || snap[a].SourceFilename != "a.wav" {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}

	// The snapshot is a copy; mutating it must not touch the cache.
	delete(snap, a)
	if c.Len() != 2 {
		t.Fatalf("snapshot mutation reached the cache")
	}
}

func TestPruneKeepsOnlyMapped(t *testing.T) {
	c := New(nil)
	a, b, d := fp("ab"), fp("cd"), fp("ef")
	c.Put(a, result(a, 60), "a.wav")
	c.Put(b, result(b, 62), "b.wav")
	c.Put(d, result(d, 64), "d.wav")

	removed := c.Prune(map[domain.Fingerprint]bool{b: true})
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, ok := c.Get(b); !ok {
		t.Fatalf("kept entry went missing")
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d after prune, want 1", c.Len())
	}
}
