package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func testRecord(fp Fingerprint, midi int, amplitude float64) CacheRecord {
	return CacheRecord{
		AnalysisResult: AnalysisResult{
			Fingerprint:  fp,
			DetectedMIDI: midi,
			FrequencyHz:  440,
			Amplitude:    amplitude,
			Confidence:   0.9,
			AnalyzedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		SourceFilename: "sample.wav",
	}
}

func TestMappingKeyRoundTrip(t *testing.T) {
	key := MappingKey{MIDI: 60, VelocityLayer: 3}
	if got := key.String(); got != "60,3" {
		t.Fatalf("String = %q, want %q", got, "60,3")
	}

	parsed, err := ParseMappingKey("60,3")
	if err != nil {
		t.Fatalf("ParseMappingKey: %v", err)
	}
	if parsed != key {
		t.Fatalf("parsed %+v, want %+v", parsed, key)
	}

	for _, bad := range []string{"", "60", "60;3", "x,3", "60,y"} {
		if _, err := ParseMappingKey(bad); err == nil {
			t.Fatalf("ParseMappingKey(%q) should fail", bad)
		}
	}
}

func TestMappingKeyAsJSONMapKey(t *testing.T) {
	fp := testFingerprint("ab")
	mapping := map[MappingKey]Fingerprint{
		{MIDI: 60, VelocityLayer: 1}: fp,
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		t.Fatalf("marshal mapping: %v", err)
	}
	if string(data) != `{"60,1":"`+string(fp)+`"}` {
		t.Fatalf("unexpected wire form: %s", data)
	}

	var back map[MappingKey]Fingerprint
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal mapping: %v", err)
	}
	if back[MappingKey{MIDI: 60, VelocityLayer: 1}] != fp {
		t.Fatalf("mapping did not round-trip: %+v", back)
	}
}

func TestNewSessionDocumentDefaults(t *testing.T) {
	doc, err := NewSessionDocument("piano-close", 4)
	if err != nil {
		t.Fatalf("NewSessionDocument: %v", err)
	}
	if doc.LowestKey != DefaultLowestKey || doc.HighestKey != DefaultHighestKey {
		t.Fatalf("key range %d..%d, want %d..%d", doc.LowestKey, doc.HighestKey, DefaultLowestKey, DefaultHighestKey)
	}
	if doc.SchemaVersion != SessionSchemaVersion {
		t.Fatalf("schema version %q", doc.SchemaVersion)
	}
	if doc.Cache == nil || doc.Mapping == nil {
		t.Fatalf("cache and mapping must be initialized")
	}
	if msg := doc.Validate(); msg != "" {
		t.Fatalf("fresh document failed validation: %s", msg)
	}

	if _, err := NewSessionDocument("", 4); err == nil {
		t.Fatalf("empty name should be rejected")
	}
	if _, err := NewSessionDocument("x", 0); err == nil {
		t.Fatalf("zero layers should be rejected")
	}
	if _, err := NewSessionDocument("x", 9); err == nil {
		t.Fatalf("nine layers should be rejected")
	}
}

func TestSetVelocityLayerCountPrunesMapping(t *testing.T) {
	doc, err := NewSessionDocument("s", 4)
	if err != nil {
		t.Fatalf("NewSessionDocument: %v", err)
	}
	fp := testFingerprint("ab")
	doc.Cache[fp] = testRecord(fp, 60, 0.5)
	for layer := 0; layer < 4; layer++ {
		doc.Mapping[MappingKey{MIDI: 60, VelocityLayer: layer}] = fp
	}

	dropped, err := doc.SetVelocityLayerCount(2)
	if err != nil {
		t.Fatalf("SetVelocityLayerCount: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if len(doc.Mapping) != 2 {
		t.Fatalf("mapping has %d entries, want 2", len(doc.Mapping))
	}
	for key := range doc.Mapping {
		if key.VelocityLayer >= 2 {
			t.Fatalf("stale layer survived: %s", key)
		}
	}
	if msg := doc.Validate(); msg != "" {
		t.Fatalf("document invalid after shrink: %s", msg)
	}

	if _, err := doc.SetVelocityLayerCount(0); err == nil {
		t.Fatalf("zero layers should be rejected")
	}
}

func TestTransposeAndDisabled(t *testing.T) {
	doc, _ := NewSessionDocument("s", 4)
	fp := testFingerprint("ab")

	if doc.TransposeFor(fp) != 0 {
		t.Fatalf("unset transpose should be zero")
	}
	doc.SetTranspose(fp, -12)
	if doc.TransposeFor(fp) != -12 {
		t.Fatalf("transpose not recorded")
	}
	doc.SetTranspose(fp, 0)
	if len(doc.Transpose) != 0 {
		t.Fatalf("zero transpose should clear the entry")
	}

	if doc.IsDisabled(fp) {
		t.Fatalf("fresh fingerprint should not be disabled")
	}
	doc.SetDisabled(fp, true)
	if !doc.IsDisabled(fp) {
		t.Fatalf("disable not recorded")
	}
	doc.SetDisabled(fp, false)
	if doc.IsDisabled(fp) || len(doc.Disabled) != 0 {
		t.Fatalf("re-enable should clear the entry")
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc, _ := NewSessionDocument("s", 4)
	fp := testFingerprint("ab")
	doc.Cache[fp] = testRecord(fp, 60, 0.5)
	doc.Mapping[MappingKey{MIDI: 60, VelocityLayer: 0}] = fp
	doc.SetTranspose(fp, 3)
	doc.SetDisabled(fp, true)

	clone := doc.Clone()
	other := testFingerprint("cd")
	clone.Cache[other] = testRecord(other, 62, 0.7)
	clone.Mapping[MappingKey{MIDI: 62, VelocityLayer: 1}] = other
	clone.SetTranspose(fp, 7)
	clone.SetDisabled(fp, false)

	if len(doc.Cache) != 1 || len(doc.Mapping) != 1 {
		t.Fatalf("clone mutation leaked into original maps")
	}
	if doc.TransposeFor(fp) != 3 {
		t.Fatalf("clone transpose mutation leaked, got %d", doc.TransposeFor(fp))
	}
	if !doc.IsDisabled(fp) {
		t.Fatalf("clone disabled mutation leaked")
	}
}

func TestValidateCatchesViolations(t *testing.T) {
	fp := testFingerprint("ab")

	base := func() *SessionDocument {
		doc, _ := NewSessionDocument("s", 4)
		doc.Cache[fp] = testRecord(fp, 60, 0.5)
		doc.Mapping[MappingKey{MIDI: 60, VelocityLayer: 0}] = fp
		return doc
	}

	if msg := base().Validate(); msg != "" {
		t.Fatalf("base document should be valid, got %s", msg)
	}

	doc := base()
	doc.Mapping = nil
	if msg := doc.Validate(); msg != "missing mapping" {
		t.Fatalf("nil mapping: got %q", msg)
	}

	doc = base()
	doc.Cache = nil
	if msg := doc.Validate(); msg != "missing cache" {
		t.Fatalf("nil cache: got %q", msg)
	}

	doc = base()
	doc.VelocityLayerCount = 99
	if msg := doc.Validate(); msg == "" {
		t.Fatalf("absurd layer count should fail validation")
	}

	doc = base()
	doc.Mapping[MappingKey{MIDI: 5, VelocityLayer: 0}] = fp
	if msg := doc.Validate(); msg == "" {
		t.Fatalf("mapping below lowest key should fail validation")
	}

	doc = base()
	doc.Mapping[MappingKey{MIDI: 60, VelocityLayer: 7}] = fp
	if msg := doc.Validate(); msg == "" {
		t.Fatalf("mapping layer beyond count should fail validation")
	}

	doc = base()
	doc.Mapping[MappingKey{MIDI: 61, VelocityLayer: 0}] = testFingerprint("cd")
	if msg := doc.Validate(); msg == "" {
		t.Fatalf("mapping to unknown fingerprint should fail validation")
	}
}

func TestMergeCacheReplacesWholesale(t *testing.T) {
	doc, _ := NewSessionDocument("s", 4)
	fp := testFingerprint("ab")
	old := testRecord(fp, 60, 0.5)
	doc.Cache[fp] = old

	updated := testRecord(fp, 62, 0.8)
	updated.SourceFilename = "renamed.wav"
	doc.MergeCache(map[Fingerprint]CacheRecord{fp: updated})

	got := doc.Cache[fp]
	if got.DetectedMIDI != 62 || got.SourceFilename != "renamed.wav" {
		t.Fatalf("merge did not replace record: %+v", got)
	}
}
