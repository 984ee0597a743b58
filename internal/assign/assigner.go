package assign

import (
	"fmt"
	"math"
	"sort"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

// Candidate is one analyzed, enabled sample competing for the velocity
// layers of a single pitch class. ScanOrder is its index in the original
// scan, the deterministic tie breaker.
type Candidate struct {
	Fingerprint domain.Fingerprint
	Amplitude   float64
	ScanOrder   int
}

// Assignment maps velocity layer to the winning fingerprint. Layers with no
// winner are simply absent.
type Assignment map[int]domain.Fingerprint

// NoteResult reports the outcome for one pitch class in an AssignAll run.
type NoteResult struct {
	MIDI       int
	Candidates int
	Assigned   Assignment
}

// Result is a whole-grid auto-assign outcome, notes in descending order.
type Result struct {
	Notes         []NoteResult
	TotalAssigned int
}

// AutoAssigner distributes analyzed samples across velocity layers by
// loudness. Given identical candidates and layer count it always produces
// the identical assignment.
type AutoAssigner interface {
	Assign(candidates []Candidate, layerCount int) (Assignment, error)
	AssignAll(doc *domain.SessionDocument, entries []domain.SampleEntry) (*Result, error)
}

type autoAssigner struct {
	log *logger.Logger
}

func New(log *logger.Logger) AutoAssigner {
	if log == nil {
		log = logger.Nop()
	}
	return &autoAssigner{log: log.With("service", "AutoAssigner")}
}

// Assign partitions the amplitude range spanned by the candidates into
// layerCount equal-width bins and gives each bin the unused candidate
// closest to its center, ties to the lowest scan order. Bins are filled from
// the top layer down, so when candidates run short the quiet outer layers
// are the ones left empty and a lone sample lands on the loudest layer. A
// candidate is never assigned to two layers.
func (a *autoAssigner) Assign(candidates []Candidate, layerCount int) (Assignment, error) {
	if layerCount < domain.MinVelocityLayers || layerCount > domain.MaxVelocityLayers {
		return nil, fmt.Errorf("Assign: layer count %d outside %d..%d",
			layerCount, domain.MinVelocityLayers, domain.MaxVelocityLayers)
	}
	if len(candidates) == 0 {
		return nil, &domain.InsufficientDataError{Detail: "no candidates for pitch class"}
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Amplitude != ranked[j].Amplitude {
			return ranked[i].Amplitude < ranked[j].Amplitude
		}
		return ranked[i].ScanOrder < ranked[j].ScanOrder
	})

	low := ranked[0].Amplitude
	high := ranked[len(ranked)-1].Amplitude
	binWidth := (high - low) / float64(layerCount)

	used := make([]bool, len(ranked))
	out := Assignment{}
	for layer := layerCount - 1; layer >= 0; layer-- {
		center := low + binWidth*(float64(layer)+0.5)
		best := -1
		bestDist := math.Inf(1)
		for i, c := range ranked {
			if used[i] {
				continue
			}
			dist := math.Abs(c.Amplitude - center)
			switch {
			case dist < bestDist:
				best, bestDist = i, dist
			case dist == bestDist && best >= 0 && c.ScanOrder < ranked[best].ScanOrder:
				best = i
			}
		}
		if best >= 0 {
			out[layer] = ranked[best].Fingerprint
			used[best] = true
		}
	}
	return out, nil
}

// AssignAll builds candidates per pitch class from the scanned entries and
// the session's user state, then assigns every class that has any. The
// effective pitch honors user transpose, disabled samples are skipped, and
// duplicate fingerprints across paths collapse to their first scan
// appearance. Covered notes have their previous mapping replaced wholesale;
// notes with no candidates keep whatever the mapping already held.
func (a *autoAssigner) AssignAll(doc *domain.SessionDocument, entries []domain.SampleEntry) (*Result, error) {
	if doc == nil {
		return nil, fmt.Errorf("AssignAll: session document required")
	}

	byNote := map[int][]Candidate{}
	seen := map[domain.Fingerprint]bool{}
	for i, entry := range entries {
		if entry.Result == nil || entry.Disabled || doc.IsDisabled(entry.Fingerprint) {
			continue
		}
		if seen[entry.Fingerprint] {
			continue
		}
		seen[entry.Fingerprint] = true

		// The entry's transpose wins when set; otherwise fall back to the
		// session's stored intent for hand-built entry lists.
		transpose := entry.UserTranspose
		if transpose == 0 {
			transpose = doc.TransposeFor(entry.Fingerprint)
		}
		midi := entry.Result.DetectedMIDI + transpose
		if midi < doc.LowestKey || midi > doc.HighestKey {
			a.log.Debug("candidate outside key range", "fingerprint", entry.Fingerprint.Short(), "midi", midi)
			continue
		}
		byNote[midi] = append(byNote[midi], Candidate{
			Fingerprint: entry.Fingerprint,
			Amplitude:   entry.Result.Amplitude,
			ScanOrder:   i,
		})
	}

	notes := make([]int, 0, len(byNote))
	for midi := range byNote {
		notes = append(notes, midi)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(notes)))

	result := &Result{}
	for _, midi := range notes {
		assigned, err := a.Assign(byNote[midi], doc.VelocityLayerCount)
		if err != nil {
			return nil, fmt.Errorf("AssignAll: note %d: %w", midi, err)
		}
		for layer := 0; layer < doc.VelocityLayerCount; layer++ {
			delete(doc.Mapping, domain.MappingKey{MIDI: midi, VelocityLayer: layer})
		}
		for layer, fp := range assigned {
			doc.Mapping[domain.MappingKey{MIDI: midi, VelocityLayer: layer}] = fp
		}
		result.Notes = append(result.Notes, NoteResult{
			MIDI:       midi,
			Candidates: len(byNote[midi]),
			Assigned:   assigned,
		})
		result.TotalAssigned += len(assigned)
	}

	a.log.Info("auto-assign complete",
		"notes", len(result.Notes),
		"assigned", result.TotalAssigned,
		"velocity_layers", doc.VelocityLayerCount,
	)
	return result, nil
}
