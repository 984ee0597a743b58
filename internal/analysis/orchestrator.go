package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/samplegrid/internal/archive"
	"github.com/yungbote/samplegrid/internal/audio"
	"github.com/yungbote/samplegrid/internal/cache"
	"github.com/yungbote/samplegrid/internal/content"
	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/platform/envutil"
	"github.com/yungbote/samplegrid/internal/platform/logger"
	"github.com/yungbote/samplegrid/internal/session"
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultFileTimeout         = 2 * time.Minute
)

var defaultExtensions = []string{".wav"}

type Deps struct {
	Log       *logger.Logger
	Hasher    content.Hasher
	Cache     cache.SampleCache
	Store     session.Store
	Decoder   audio.Decoder
	Pitch     audio.PitchAnalyzer
	Amplitude audio.AmplitudeAnalyzer

	// Archive is the optional cross-session store. When present, cache
	// misses consult it before decoding and fresh results are written
	// through to it.
	Archive archive.Archive
}

type Options struct {
	// Workers bounds the analysis pool. <= 0 picks the default: the
	// SAMPLEGRID_FILE_CONCURRENCY env var, else min(4, NumCPU). The cap
	// stays low because pitch detection is the expensive part.
	Workers int

	// FileTimeout hard-limits one file's decode+analyze. <= 0 defaults to
	// 2 minutes.
	FileTimeout time.Duration

	// ConfidenceThreshold flags results below it as low confidence. They
	// are cached and surfaced either way. <= 0 defaults to 0.5.
	ConfidenceThreshold float64

	// Extensions filters the scan, case-insensitive, leading dot included.
	// Empty means .wav only.
	Extensions []string

	// OnProgress fires after every completed entry: hit, analyzed, or
	// failed. Completion order across files is not guaranteed; the total is
	// fixed at scan time. Called from worker goroutines, serialized.
	OnProgress func(done, total int)

	// OnSampleDone delivers each finished entry. Same calling contract as
	// OnProgress; consumers marshal onto their own thread if they need to.
	OnSampleDone func(entry domain.SampleEntry)
}

type FileFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type BatchSummary struct {
	BatchID       uuid.UUID            `json:"batch_id"`
	Total         int                  `json:"total"`
	CacheHits     int                  `json:"cache_hits"`
	NewlyAnalyzed int                  `json:"newly_analyzed"`
	Failed        int                  `json:"failed"`
	Failures      []FileFailure        `json:"failures,omitempty"`
	Entries       []domain.SampleEntry `json:"-"`
}

// Orchestrator drives one folder scan end to end: enumerate, fingerprint,
// split hits from misses, analyze misses on a bounded pool, merge into the
// session document, persist. Two concurrent invocations on the same session
// document must be serialized by the caller; different sessions are
// independent.
type Orchestrator interface {
	AnalyzeFolder(ctx context.Context, folder string, doc *domain.SessionDocument, opts Options) (*BatchSummary, error)
}

type orchestrator struct {
	deps Deps
	log  *logger.Logger
}

func NewOrchestrator(deps Deps) (Orchestrator, error) {
	if deps.Hasher == nil || deps.Cache == nil || deps.Store == nil ||
		deps.Decoder == nil || deps.Pitch == nil || deps.Amplitude == nil {
		return nil, fmt.Errorf("NewOrchestrator: missing deps")
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &orchestrator{
		deps: deps,
		log:  deps.Log.With("service", "BatchAnalysisOrchestrator"),
	}, nil
}

type scanItem struct {
	path        string
	displayName string
}

// missGroup collects every scanned path whose bytes hash to one fingerprint.
// Only the first occurrence is analyzed; the rest ride its result and count
// as hits.
type missGroup struct {
	items []scanItem
}

func (o *orchestrator) AnalyzeFolder(ctx context.Context, folder string, doc *domain.SessionDocument, opts Options) (*BatchSummary, error) {
	if doc == nil {
		return nil, fmt.Errorf("AnalyzeFolder: session document required")
	}
	if strings.TrimSpace(folder) == "" {
		return nil, fmt.Errorf("AnalyzeFolder: folder required")
	}

	batchID := uuid.New()
	log := o.log.With("batch_id", batchID, "session", doc.Name)
	summary := &BatchSummary{BatchID: batchID}
	doc.InputFolder = folder

	fileTimeout := opts.FileTimeout
	if fileTimeout <= 0 {
		fileTimeout = DefaultFileTimeout
	}
	threshold := opts.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	onProgress := opts.OnProgress
	if onProgress == nil {
		onProgress = func(int, int) {}
	}
	onSampleDone := opts.OnSampleDone
	if onSampleDone == nil {
		onSampleDone = func(domain.SampleEntry) {}
	}

	log.Info("batch scanning", "folder", folder)
	items, err := scanFolder(folder, opts.Extensions)
	if err != nil {
		log.Error("batch failed", "error", err)
		return summary, err
	}
	summary.Total = len(items)
	if len(items) == 0 {
		log.Info("batch completed", "total", 0)
		return summary, nil
	}

	var (
		done          atomic.Int32
		hitCount      atomic.Int32
		newlyAnalyzed atomic.Int32
		cbMu          sync.Mutex
		failMu        sync.Mutex
		entryMu       sync.Mutex
	)
	total := summary.Total
	emit := func(entry domain.SampleEntry, hit bool) {
		if hit {
			hitCount.Add(1)
		}
		entryMu.Lock()
		summary.Entries = append(summary.Entries, entry)
		entryMu.Unlock()

		d := int(done.Add(1))
		cbMu.Lock()
		onSampleDone(entry)
		onProgress(d, total)
		cbMu.Unlock()
	}
	fail := func(path, reason string) {
		failMu.Lock()
		summary.Failed++
		summary.Failures = append(summary.Failures, FileFailure{Path: path, Reason: reason})
		failMu.Unlock()

		d := int(done.Add(1))
		cbMu.Lock()
		onProgress(d, total)
		cbMu.Unlock()
	}

	// Fingerprint everything up front, then split hits from misses.
	var (
		hits    []domain.SampleEntry
		misses  = map[domain.Fingerprint]*missGroup{}
		missFPs []domain.Fingerprint
	)
	for _, item := range items {
		fp, err := o.deps.Hasher.Hash(item.path)
		if err != nil {
			log.Warn("hash failed", "path", item.path, "error", err)
			fail(item.path, err.Error())
			continue
		}
		entry := o.newEntry(doc, item, fp)
		if rec, ok := o.deps.Cache.Get(fp); ok {
			result := rec.AnalysisResult
			entry.Result = &result
			hits = append(hits, entry)
			continue
		}
		if g, ok := misses[fp]; ok {
			g.items = append(g.items, item)
			continue
		}
		misses[fp] = &missGroup{items: []scanItem{item}}
		missFPs = append(missFPs, fp)
	}

	// Archive consults count as cache hits for the summary: the content was
	// known, no analyzer ran.
	if o.deps.Archive != nil {
		remaining := missFPs[:0]
		for _, fp := range missFPs {
			rec, found, err := o.deps.Archive.Lookup(fp)
			if err != nil {
				log.Warn("archive lookup failed", "fingerprint", fp.Short(), "error", err)
				remaining = append(remaining, fp)
				continue
			}
			if !found {
				remaining = append(remaining, fp)
				continue
			}
			o.deps.Cache.Put(fp, rec.AnalysisResult, rec.SourceFilename)
			for _, item := range misses[fp].items {
				entry := o.newEntry(doc, item, fp)
				result := rec.AnalysisResult
				entry.Result = &result
				hits = append(hits, entry)
			}
			delete(misses, fp)
		}
		missFPs = remaining
	}

	log.Info("batch dispatching",
		"total", summary.Total,
		"hits", len(hits),
		"queued", len(missFPs),
		"failed_at_scan", summary.Failed,
	)

	for _, entry := range hits {
		emit(entry, true)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = envutil.Int("SAMPLEGRID_FILE_CONCURRENCY", defaultWorkers())
	}
	if workers < 1 {
		workers = 1
	}

	log.Info("batch running", "workers", workers, "queued", len(missFPs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, fp := range missFPs {
		fp := fp
		group := misses[fp]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			first := group.items[0]

			fileCtx, cancel := context.WithTimeout(gctx, fileTimeout)
			result, level, analyzeErr := o.analyzeOne(fileCtx, first.path, fp, threshold)
			cancel()
			if analyzeErr != nil {
				if gctx.Err() != nil && errors.Is(analyzeErr, context.Canceled) {
					return gctx.Err()
				}
				log.Warn("analysis failed", "path", first.path, "error", analyzeErr)
				for _, item := range group.items {
					fail(item.path, analyzeErr.Error())
				}
				return nil
			}

			o.deps.Cache.Put(fp, *result, first.displayName)
			newlyAnalyzed.Add(1)
			if o.deps.Archive != nil {
				rec := domain.CacheRecord{AnalysisResult: *result, SourceFilename: first.displayName}
				if err := o.deps.Archive.Store(rec, level.FullRMS, level.Peak); err != nil {
					log.Warn("archive store failed", "fingerprint", fp.Short(), "error", err)
				}
			}
			for i, item := range group.items {
				entry := o.newEntry(doc, item, fp)
				r := *result
				entry.Result = &r
				emit(entry, i > 0)
			}
			return nil
		})
	}

	waitErr := g.Wait()

	// Everything that finished is merged regardless of how the batch ended;
	// cancellation never invalidates completed work.
	doc.MergeCache(o.deps.Cache.Snapshot())
	summary.CacheHits = int(hitCount.Load())
	summary.NewlyAnalyzed = int(newlyAnalyzed.Load())

	var batchErr error
	if waitErr != nil {
		log.Info("batch cancelled", "done", int(done.Load()), "total", total)
		batchErr = &domain.CancelledError{Done: int(done.Load())}
	}

	if err := o.deps.Store.Save(doc); err != nil {
		// The in-memory merge stands; the caller can retry persistence.
		log.Error("session save failed after batch", "error", err)
		batchErr = errors.Join(batchErr, err)
	}

	if batchErr == nil {
		log.Info("batch completed",
			"total", summary.Total,
			"cache_hits", summary.CacheHits,
			"newly_analyzed", summary.NewlyAnalyzed,
			"failed", summary.Failed,
		)
	}
	sortEntries(summary.Entries)
	return summary, batchErr
}

func (o *orchestrator) newEntry(doc *domain.SessionDocument, item scanItem, fp domain.Fingerprint) domain.SampleEntry {
	return domain.SampleEntry{
		FilePath:      item.path,
		DisplayName:   item.displayName,
		Fingerprint:   fp,
		UserTranspose: doc.TransposeFor(fp),
		Disabled:      doc.IsDisabled(fp),
	}
}

// analyzeOne decodes and measures a single file. The context is polled
// between phases; in-flight decode or FFT work is never torn down mid-call.
func (o *orchestrator) analyzeOne(ctx context.Context, path string, fp domain.Fingerprint, threshold float64) (*domain.AnalysisResult, audio.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, audio.Measurement{}, err
	}
	clip, err := o.deps.Decoder.Decode(path)
	if err != nil {
		return nil, audio.Measurement{}, err
	}
	mono := clip.Mono()

	if err := ctx.Err(); err != nil {
		return nil, audio.Measurement{}, err
	}
	pitch, err := o.deps.Pitch.Detect(mono, clip.SampleRate)
	if err != nil {
		return nil, audio.Measurement{}, err
	}

	if err := ctx.Err(); err != nil {
		return nil, audio.Measurement{}, err
	}
	level, err := o.deps.Amplitude.Measure(mono, clip.SampleRate)
	if err != nil {
		return nil, audio.Measurement{}, err
	}

	result := &domain.AnalysisResult{
		Fingerprint:   fp,
		DetectedMIDI:  pitch.MIDI,
		FrequencyHz:   pitch.FrequencyHz,
		Amplitude:     level.Level,
		AmplitudeDB:   level.LevelDB,
		Confidence:    pitch.Confidence,
		LowConfidence: pitch.Confidence < threshold,
		AnalyzedAt:    time.Now().UTC(),
	}
	return result, level, nil
}

func scanFolder(folder string, extensions []string) ([]scanItem, error) {
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	dirEntries, err := os.ReadDir(folder)
	if err != nil {
		return nil, &domain.IOError{Path: folder, Err: err}
	}
	items := make([]scanItem, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !allowed[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		items = append(items, scanItem{
			path:        filepath.Join(folder, name),
			displayName: name,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].displayName < items[j].displayName })
	return items, nil
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

func sortEntries(entries []domain.SampleEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].DisplayName < entries[j].DisplayName })
}
