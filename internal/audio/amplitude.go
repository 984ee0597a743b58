package audio

import (
	"math"
	"sort"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

const (
	DefaultVelocityWindowMS = 500.0
	MinVelocityWindowMS     = 100.0
	MaxVelocityWindowMS     = 2000.0

	peakWindowMS   = 10.0
	peakPercentile = 99.5

	// Amplitudes at or below this are treated as silence; the dB value is
	// floored instead of going to -Inf so results stay JSON-encodable.
	silenceFloor   = 1e-10
	silenceFloorDB = -200.0
)

// Measurement is the loudness profile of one sample. Level is the velocity
// amplitude: RMS over the leading window, which tracks how hard the note was
// struck better than a whole-file RMS that rewards long tails.
type Measurement struct {
	Level   float64
	LevelDB float64
	FullRMS float64
	Peak    float64
}

type AmplitudeAnalyzer interface {
	Measure(samples []float64, sampleRate int) (Measurement, error)
}

type rmsAnalyzer struct {
	log      *logger.Logger
	windowMS float64
}

// NewRMSAnalyzer builds the RMS amplitude analyzer. windowMS is clamped to
// 100..2000; zero selects the default 500 ms window.
func NewRMSAnalyzer(windowMS float64, log *logger.Logger) AmplitudeAnalyzer {
	if log == nil {
		log = logger.Nop()
	}
	if windowMS == 0 {
		windowMS = DefaultVelocityWindowMS
	}
	windowMS = math.Max(MinVelocityWindowMS, math.Min(MaxVelocityWindowMS, windowMS))
	return &rmsAnalyzer{
		log:      log.With("service", "RMSAnalyzer"),
		windowMS: windowMS,
	}
}

func (a *rmsAnalyzer) Measure(samples []float64, sampleRate int) (Measurement, error) {
	if len(samples) == 0 {
		return Measurement{}, &domain.InsufficientDataError{Detail: "no samples to measure"}
	}
	if sampleRate <= 0 {
		return Measurement{}, &domain.InsufficientDataError{Detail: "non-positive sample rate"}
	}

	window := int(float64(sampleRate) * a.windowMS / 1000.0)
	if window > len(samples) {
		window = len(samples)
	}

	level := rms(samples[:window])
	m := Measurement{
		Level:   level,
		LevelDB: toDB(level),
		FullRMS: rms(samples),
		Peak:    percentilePeak(samples, sampleRate),
	}
	a.log.Debug("measured amplitude",
		"window_ms", a.windowMS,
		"level", m.Level,
		"level_db", m.LevelDB,
		"peak", m.Peak,
	)
	return m, nil
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func toDB(amplitude float64) float64 {
	if amplitude <= silenceFloor {
		return silenceFloorDB
	}
	return 20 * math.Log10(amplitude)
}

// percentilePeak slides a short window over the signal and takes the highest
// per-window percentile of absolute amplitude. Less twitchy than a raw
// absolute maximum on clicky material.
func percentilePeak(samples []float64, sampleRate int) float64 {
	window := int(float64(sampleRate) * peakWindowMS / 1000.0)
	if window < 1 {
		window = 1
	}
	if window > len(samples) {
		window = len(samples)
	}
	hop := window / 4
	if hop < 1 {
		hop = 1
	}

	peak := 0.0
	found := false
	for i := 0; i+window <= len(samples); i += hop {
		p := percentileAbs(samples[i:i+window], peakPercentile)
		if p > peak {
			peak = p
		}
		found = true
	}
	if !found {
		return percentileAbs(samples, peakPercentile)
	}
	return peak
}

// percentileAbs computes the pth percentile of |x| with linear interpolation
// between ranks.
func percentileAbs(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	abs := make([]float64, len(samples))
	for i, s := range samples {
		abs[i] = math.Abs(s)
	}
	sort.Float64s(abs)
	if len(abs) == 1 {
		return abs[0]
	}
	rank := p / 100.0 * float64(len(abs)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return abs[lo]
	}
	frac := rank - float64(lo)
	return abs[lo]*(1-frac) + abs[hi]*frac
}
