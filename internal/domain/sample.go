package domain

import (
	"strings"
	"time"
)

// Fingerprint is the lowercase hex sha256 digest of a file's byte content.
// Two files with identical bytes share one fingerprint regardless of path or
// name, so analysis results are stored once per unique content.
type Fingerprint string

const fingerprintHexLen = 64

func (f Fingerprint) Valid() bool {
	if len(f) != fingerprintHexLen {
		return false
	}
	for _, c := range f {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// Short returns a log-friendly prefix of the digest.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// AnalysisResult holds the analyzer output for one fingerprint. Results are
// immutable: re-analysis after a content change replaces the record wholesale,
// it never mutates fields in place.
type AnalysisResult struct {
	Fingerprint   Fingerprint `json:"fingerprint"`
	DetectedMIDI  int         `json:"detected_midi"`
	FrequencyHz   float64     `json:"detected_frequency_hz"`
	Amplitude     float64     `json:"amplitude_level"`
	AmplitudeDB   float64     `json:"amplitude_db"`
	Confidence    float64     `json:"confidence"`
	LowConfidence bool        `json:"low_confidence,omitempty"`
	AnalyzedAt    time.Time   `json:"analyzed_at"`
}

// CacheRecord is an AnalysisResult plus the filename it was first produced
// from. The filename is informational only; the cache itself is keyed purely
// by content.
type CacheRecord struct {
	AnalysisResult
	SourceFilename string `json:"filename"`
}

func (r CacheRecord) validate(key Fingerprint) string {
	if !key.Valid() {
		return "cache key is not a valid fingerprint: " + string(key)
	}
	if r.Fingerprint != "" && r.Fingerprint != key {
		return "cache record fingerprint does not match its key: " + string(key)
	}
	if strings.TrimSpace(r.SourceFilename) == "" {
		return "cache record missing filename: " + string(key)
	}
	if r.AnalyzedAt.IsZero() {
		return "cache record missing analyzed_at: " + string(key)
	}
	return ""
}

// SampleEntry is the file-system-bound view of one scanned file. Result stays
// nil until the file has been analyzed or served from cache. UserTranspose is
// explicit user intent: it survives re-analysis and is applied additively to
// DetectedMIDI, never written back into the analysis result.
type SampleEntry struct {
	FilePath      string          `json:"file_path"`
	DisplayName   string          `json:"display_name"`
	Fingerprint   Fingerprint     `json:"fingerprint"`
	Result        *AnalysisResult `json:"result,omitempty"`
	UserTranspose int             `json:"user_transpose"`
	Disabled      bool            `json:"disabled"`
}

// EffectiveMIDI is the note the sample plays at once the user's transpose is
// applied. Returns false while the entry is unanalyzed.
func (e SampleEntry) EffectiveMIDI() (int, bool) {
	if e.Result == nil {
		return 0, false
	}
	return e.Result.DetectedMIDI + e.UserTranspose, true
}
