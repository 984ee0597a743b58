package export

import (
	"fmt"
	"sort"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/midiutil"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

// Item pairs one grid slot with the cached sample that fills it and the
// filename the renderer will write.
type Item struct {
	Key            domain.MappingKey  `json:"key"`
	Fingerprint    domain.Fingerprint `json:"fingerprint"`
	SourceFilename string             `json:"source_filename"`
	DetectedMIDI   int                `json:"detected_midi"`
	TargetName     string             `json:"target_name"`
}

// Plan is the full render manifest for a session, ordered by note then
// velocity layer.
type Plan struct {
	SessionName string `json:"session_name"`
	SampleRate  int    `json:"sample_rate"`
	Items       []Item `json:"items"`
}

type Planner interface {
	BuildPlan(doc *domain.SessionDocument, sampleRate int) (*Plan, error)
}

type planner struct {
	log *logger.Logger
}

func NewPlanner(log *logger.Logger) Planner {
	if log == nil {
		log = logger.Nop()
	}
	return &planner{log: log.With("service", "ExportPlanner")}
}

func (p *planner) BuildPlan(doc *domain.SessionDocument, sampleRate int) (*Plan, error) {
	if doc == nil {
		return nil, fmt.Errorf("BuildPlan: session document required")
	}
	if sampleRate <= 0 {
		sampleRate = midiutil.DefaultSampleRate
	}

	plan := &Plan{
		SessionName: doc.Name,
		SampleRate:  sampleRate,
		Items:       make([]Item, 0, len(doc.Mapping)),
	}
	for key, fp := range doc.Mapping {
		rec, ok := doc.Cache[fp]
		if !ok {
			return nil, fmt.Errorf("BuildPlan: slot %s references unknown sample %s", key, fp.Short())
		}
		target, err := midiutil.ExportFileName(key.MIDI, key.VelocityLayer, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("BuildPlan: slot %s: %w", key, err)
		}
		plan.Items = append(plan.Items, Item{
			Key:            key,
			Fingerprint:    fp,
			SourceFilename: rec.SourceFilename,
			DetectedMIDI:   rec.DetectedMIDI,
			TargetName:     target,
		})
	}
	sort.Slice(plan.Items, func(i, j int) bool {
		a, b := plan.Items[i].Key, plan.Items[j].Key
		if a.MIDI != b.MIDI {
			return a.MIDI < b.MIDI
		}
		return a.VelocityLayer < b.VelocityLayer
	})

	p.log.Debug("export plan built",
		"session", doc.Name,
		"items", len(plan.Items),
		"sample_rate", sampleRate,
	)
	return plan, nil
}
