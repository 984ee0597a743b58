package domain

import (
	"strings"
	"testing"
	"time"
)

func testFingerprint(seed string) Fingerprint {
	return Fingerprint(strings.Repeat(seed, 64/len(seed))[:64])
}

func TestFingerprintValid(t *testing.T) {
	if !testFingerprint("ab").Valid() {
		t.Fatalf("64 lowercase hex chars should be valid")
	}
	if Fingerprint(strings.Repeat("AB", 32)).Valid() {
		t.Fatalf("uppercase hex should be rejected")
	}
	if Fingerprint("abc123").Valid() {
		t.Fatalf("short digest should be rejected")
	}
	if Fingerprint(strings.Repeat("zz", 32)).Valid() {
		t.Fatalf("non-hex characters should be rejected")
	}
	if Fingerprint("").Valid() {
		t.Fatalf("empty fingerprint should be rejected")
	}
}

func TestFingerprintShort(t *testing.T) {
	fp := testFingerprint("0123456789abcdef")
	if got := fp.Short(); got != "0123456789ab" {
		t.Fatalf("Short = %q, want first 12 chars", got)
	}
	if got := Fingerprint("abc").Short(); got != "abc" {
		t.Fatalf("Short of a short value should return it unchanged, got %q", got)
	}
}

func TestCacheRecordValidate(t *testing.T) {
	fp := testFingerprint("ab")
	good := CacheRecord{
		AnalysisResult: AnalysisResult{
			Fingerprint:  fp,
			DetectedMIDI: 60,
			AnalyzedAt:   time.Now().UTC(),
		},
		SourceFilename: "c4.wav",
	}
	if msg := good.validate(fp); msg != "" {
		t.Fatalf("valid record rejected: %s", msg)
	}

	if msg := good.validate("nothex"); msg == "" {
		t.Fatalf("invalid cache key should be rejected")
	}

	mismatched := good
	mismatched.Fingerprint = testFingerprint("cd")
	if msg := mismatched.validate(fp); msg == "" {
		t.Fatalf("fingerprint/key mismatch should be rejected")
	}

	unnamed := good
	unnamed.SourceFilename = "  "
	if msg := unnamed.validate(fp); msg == "" {
		t.Fatalf("blank filename should be rejected")
	}

	unstamped := good
	unstamped.AnalyzedAt = time.Time{}
	if msg := unstamped.validate(fp); msg == "" {
		t.Fatalf("zero analyzed_at should be rejected")
	}
}

func TestEffectiveMIDI(t *testing.T) {
	entry := SampleEntry{DisplayName: "pending.wav"}
	if _, ok := entry.EffectiveMIDI(); ok {
		t.Fatalf("unanalyzed entry should have no effective midi")
	}

	entry.Result = &AnalysisResult{DetectedMIDI: 60}
	if midi, ok := entry.EffectiveMIDI(); !ok || midi != 60 {
		t.Fatalf("EffectiveMIDI = %d, %v; want 60, true", midi, ok)
	}

	entry.UserTranspose = -12
	if midi, _ := entry.EffectiveMIDI(); midi != 48 {
		t.Fatalf("transposed EffectiveMIDI = %d, want 48", midi)
	}
	if entry.Result.DetectedMIDI != 60 {
		t.Fatalf("transpose must not mutate the analysis result")
	}
}
