package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SessionSchemaVersion = "1.0.0"

	MinVelocityLayers = 1
	MaxVelocityLayers = 8

	// Standard 88-key piano range, the default mapping grid.
	DefaultLowestKey  = 21
	DefaultHighestKey = 108
)

// MappingKey addresses one cell of the (pitch, velocity layer) grid. Its wire
// form is the "midi,velocity" string used as a JSON object key.
type MappingKey struct {
	MIDI          int
	VelocityLayer int
}

func (k MappingKey) String() string {
	return strconv.Itoa(k.MIDI) + "," + strconv.Itoa(k.VelocityLayer)
}

func (k MappingKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MappingKey) UnmarshalText(text []byte) error {
	parsed, err := ParseMappingKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func ParseMappingKey(s string) (MappingKey, error) {
	left, right, ok := strings.Cut(s, ",")
	if !ok {
		return MappingKey{}, fmt.Errorf("ParseMappingKey: %q is not midi,velocity", s)
	}
	midi, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return MappingKey{}, fmt.Errorf("ParseMappingKey: bad midi in %q: %w", s, err)
	}
	layer, err := strconv.Atoi(strings.TrimSpace(right))
	if err != nil {
		return MappingKey{}, fmt.Errorf("ParseMappingKey: bad velocity layer in %q: %w", s, err)
	}
	return MappingKey{MIDI: midi, VelocityLayer: layer}, nil
}

// SessionDocument is the persisted aggregate for one sampling session: the
// content-addressed analysis cache, the key/velocity mapping, and the
// per-fingerprint user state (transpose, disabled). It round-trips losslessly
// through the session store.
type SessionDocument struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	SchemaVersion string    `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	VelocityLayerCount int `json:"velocity_layer_count"`
	LowestKey          int `json:"lowest_key"`
	HighestKey         int `json:"highest_key"`

	InputFolder  string `json:"input_folder"`
	OutputFolder string `json:"output_folder"`

	Cache     map[Fingerprint]CacheRecord `json:"cache"`
	Mapping   map[MappingKey]Fingerprint  `json:"mapping"`
	Transpose map[Fingerprint]int         `json:"transpose,omitempty"`
	Disabled  map[Fingerprint]bool        `json:"disabled,omitempty"`
}

// NewSessionDocument builds an empty session with defaults applied.
func NewSessionDocument(name string, velocityLayers int) (*SessionDocument, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("NewSessionDocument: name required")
	}
	if velocityLayers < MinVelocityLayers || velocityLayers > MaxVelocityLayers {
		return nil, fmt.Errorf("NewSessionDocument: velocity layer count %d outside %d..%d",
			velocityLayers, MinVelocityLayers, MaxVelocityLayers)
	}
	now := time.Now().UTC()
	return &SessionDocument{
		ID:                 uuid.New(),
		Name:               name,
		SchemaVersion:      SessionSchemaVersion,
		CreatedAt:          now,
		UpdatedAt:          now,
		VelocityLayerCount: velocityLayers,
		LowestKey:          DefaultLowestKey,
		HighestKey:         DefaultHighestKey,
		Cache:              map[Fingerprint]CacheRecord{},
		Mapping:            map[MappingKey]Fingerprint{},
	}, nil
}

// SetVelocityLayerCount changes the session's layer count. Shrinking the
// count drops mapping entries whose layer no longer exists; it reports how
// many were dropped so callers can warn the user.
func (d *SessionDocument) SetVelocityLayerCount(n int) (dropped int, err error) {
	if n < MinVelocityLayers || n > MaxVelocityLayers {
		return 0, fmt.Errorf("SetVelocityLayerCount: %d outside %d..%d", n, MinVelocityLayers, MaxVelocityLayers)
	}
	for key := range d.Mapping {
		if key.VelocityLayer >= n {
			delete(d.Mapping, key)
			dropped++
		}
	}
	d.VelocityLayerCount = n
	return dropped, nil
}

// MergeCache copies records into the document cache, replacing existing
// entries for the same fingerprint wholesale.
func (d *SessionDocument) MergeCache(records map[Fingerprint]CacheRecord) {
	if d.Cache == nil {
		d.Cache = make(map[Fingerprint]CacheRecord, len(records))
	}
	for fp, rec := range records {
		d.Cache[fp] = rec
	}
}

// TransposeFor returns the user transpose for a fingerprint, zero when unset.
func (d *SessionDocument) TransposeFor(fp Fingerprint) int {
	if d.Transpose == nil {
		return 0
	}
	return d.Transpose[fp]
}

// SetTranspose records user transpose intent; zero clears the entry.
func (d *SessionDocument) SetTranspose(fp Fingerprint, semitones int) {
	if semitones == 0 {
		delete(d.Transpose, fp)
		return
	}
	if d.Transpose == nil {
		d.Transpose = map[Fingerprint]int{}
	}
	d.Transpose[fp] = semitones
}

// SetDisabled marks a fingerprint as excluded from auto-assignment.
func (d *SessionDocument) SetDisabled(fp Fingerprint, disabled bool) {
	if !disabled {
		delete(d.Disabled, fp)
		return
	}
	if d.Disabled == nil {
		d.Disabled = map[Fingerprint]bool{}
	}
	d.Disabled[fp] = true
}

func (d *SessionDocument) IsDisabled(fp Fingerprint) bool {
	return d.Disabled != nil && d.Disabled[fp]
}

// Clone deep-copies the document.
func (d *SessionDocument) Clone() *SessionDocument {
	out := *d
	out.Cache = make(map[Fingerprint]CacheRecord, len(d.Cache))
	for fp, rec := range d.Cache {
		out.Cache[fp] = rec
	}
	out.Mapping = make(map[MappingKey]Fingerprint, len(d.Mapping))
	for key, fp := range d.Mapping {
		out.Mapping[key] = fp
	}
	if d.Transpose != nil {
		out.Transpose = make(map[Fingerprint]int, len(d.Transpose))
		for fp, n := range d.Transpose {
			out.Transpose[fp] = n
		}
	}
	if d.Disabled != nil {
		out.Disabled = make(map[Fingerprint]bool, len(d.Disabled))
		for fp, v := range d.Disabled {
			out.Disabled[fp] = v
		}
	}
	return &out
}

// Validate checks structural integrity. An empty string means the document is
// well formed; otherwise the string names the first violation found. The
// session store turns a non-empty result into a CorruptError.
func (d *SessionDocument) Validate() string {
	if d == nil {
		return "document is nil"
	}
	if strings.TrimSpace(d.Name) == "" {
		return "missing name"
	}
	if d.VelocityLayerCount < MinVelocityLayers || d.VelocityLayerCount > MaxVelocityLayers {
		return fmt.Sprintf("velocity_layer_count %d outside %d..%d", d.VelocityLayerCount, MinVelocityLayers, MaxVelocityLayers)
	}
	if d.LowestKey < 0 || d.HighestKey > 127 || d.LowestKey > d.HighestKey {
		return fmt.Sprintf("key range %d..%d invalid", d.LowestKey, d.HighestKey)
	}
	if d.Cache == nil {
		return "missing cache"
	}
	if d.Mapping == nil {
		return "missing mapping"
	}
	for fp, rec := range d.Cache {
		if msg := rec.validate(fp); msg != "" {
			return msg
		}
	}
	for key, fp := range d.Mapping {
		if key.MIDI < d.LowestKey || key.MIDI > d.HighestKey {
			return fmt.Sprintf("mapping key %s outside key range %d..%d", key, d.LowestKey, d.HighestKey)
		}
		if key.VelocityLayer < 0 || key.VelocityLayer >= d.VelocityLayerCount {
			return fmt.Sprintf("mapping key %s layer outside 0..%d", key, d.VelocityLayerCount-1)
		}
		if _, ok := d.Cache[fp]; !ok {
			return fmt.Sprintf("mapping key %s references fingerprint %s absent from cache", key, fp.Short())
		}
	}
	return ""
}
