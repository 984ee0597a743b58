package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/midiutil"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

const (
	fftSize = 16384

	// Detection band. A little wider than the piano's 27.5..4186 Hz so
	// detuned outliers at either end still resolve.
	minDetectHz = 24.0
	maxDetectHz = 4500.0

	// Harmonics folded into the product spectrum.
	hpsHarmonics = 4

	// A candidate fundamental must carry at least this fraction of the
	// band's strongest magnitude. Keeps window leakage at sub-multiples of
	// the true peak out of the running.
	fundamentalGate = 1e-3

	// Onset gate relative to the clip's absolute peak.
	onsetThreshold = 0.01

	minAnalysisMS = 50.0
)

// PitchResult is one detection: the rounded MIDI note, the interpolated
// fundamental, and how concentrated the spectral energy was around that
// fundamental and its harmonics (0..1).
type PitchResult struct {
	MIDI        int
	FrequencyHz float64
	Confidence  float64
}

type PitchAnalyzer interface {
	Detect(samples []float64, sampleRate int) (PitchResult, error)
}

type hpsAnalyzer struct {
	log *logger.Logger
	win []float64
}

// NewHPSAnalyzer builds the FFT pitch analyzer: Hann window, harmonic
// product spectrum, parabolic peak interpolation. The window is shared and
// read-only; the FFT plan carries scratch state, so each Detect call builds
// its own and the analyzer stays safe under concurrent workers.
func NewHPSAnalyzer(log *logger.Logger) PitchAnalyzer {
	if log == nil {
		log = logger.Nop()
	}
	return &hpsAnalyzer{
		log: log.With("service", "HPSAnalyzer"),
		win: hannWindow(fftSize),
	}
}

func (a *hpsAnalyzer) Detect(samples []float64, sampleRate int) (PitchResult, error) {
	if sampleRate <= 0 {
		return PitchResult{}, &domain.InsufficientDataError{Detail: "non-positive sample rate"}
	}
	minSamples := int(float64(sampleRate) * minAnalysisMS / 1000.0)
	if len(samples) < minSamples {
		return PitchResult{}, &domain.InsufficientDataError{Detail: "audio shorter than analysis window"}
	}

	segment := analysisSegment(samples)
	if segment == nil {
		return PitchResult{}, &domain.InsufficientDataError{Detail: "audio is silent"}
	}

	buf := make([]float64, fftSize)
	n := copy(buf, segment)
	for i := 0; i < n && i < fftSize; i++ {
		buf[i] *= a.win[i]
	}
	fft := fourier.NewFFT(fftSize)
	coeffs := fft.Coefficients(nil, buf)

	mags := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mags[i] = math.Hypot(real(c), imag(c))
	}

	binHz := float64(sampleRate) / float64(fftSize)
	lowBin := int(math.Ceil(minDetectHz / binHz))
	highBin := int(math.Floor(maxDetectHz / binHz))
	if lowBin < 1 {
		lowBin = 1
	}
	if highBin >= len(mags) {
		highBin = len(mags) - 1
	}
	if lowBin >= highBin {
		return PitchResult{}, &domain.InsufficientDataError{Detail: "sample rate too low for detection band"}
	}

	best := bestHPSBin(mags, lowBin, highBin)
	if best == 0 {
		return PitchResult{}, &domain.InsufficientDataError{Detail: "no spectral peak in detection band"}
	}

	freq := (float64(best) + parabolicOffset(mags, best)) * binHz
	if freq <= 0 {
		return PitchResult{}, &domain.InsufficientDataError{Detail: "degenerate peak"}
	}

	midi := midiutil.FrequencyToMIDI(freq)
	result := PitchResult{
		MIDI:        midi,
		FrequencyHz: freq,
		Confidence:  harmonicConfidence(mags, best, lowBin, highBin),
	}
	a.log.Debug("detected pitch",
		"midi", result.MIDI,
		"frequency_hz", result.FrequencyHz,
		"confidence", result.Confidence,
	)
	return result, nil
}

// analysisSegment skips leading silence so the FFT sees the sustained note
// rather than empty lead-in. Returns nil for an all-silent clip.
func analysisSegment(samples []float64) []float64 {
	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak <= silenceFloor {
		return nil
	}
	gate := peak * onsetThreshold
	for i, s := range samples {
		if math.Abs(s) >= gate {
			return samples[i:]
		}
	}
	return samples
}

// bestHPSBin scores each candidate bin by the product of its harmonic
// magnitudes, summed in the log domain to dodge underflow. A sub-octave
// check demotes peaks whose half-frequency carries comparable harmonic
// energy, the classic HPS octave error.
func bestHPSBin(mags []float64, lowBin, highBin int) int {
	score := func(bin int) float64 {
		sum := 0.0
		for h := 1; h <= hpsHarmonics; h++ {
			idx := bin * h
			if idx >= len(mags) {
				break
			}
			sum += math.Log(mags[idx] + 1e-12)
		}
		return sum
	}

	maxMag := 0.0
	for bin := lowBin; bin <= highBin && bin < len(mags); bin++ {
		if mags[bin] > maxMag {
			maxMag = mags[bin]
		}
	}
	gate := maxMag * fundamentalGate

	best := 0
	bestScore := math.Inf(-1)
	for bin := lowBin; bin <= highBin; bin++ {
		if mags[bin] < gate {
			continue
		}
		if s := score(bin); s > bestScore {
			bestScore = s
			best = bin
		}
	}
	if best == 0 {
		return 0
	}
	// A strong product an octave down means the true fundamental sits at
	// half the winning bin. Rounding can put the sub-peak one bin off, so
	// scan the neighbors too.
	half := best / 2
	demoted := 0
	demotedScore := math.Inf(-1)
	for bin := half - 1; bin <= half+1; bin++ {
		if bin < lowBin || bin >= best || mags[bin] < gate {
			continue
		}
		if s := score(bin); s >= bestScore-math.Log(2) && s > demotedScore {
			demotedScore = s
			demoted = bin
		}
	}
	if demoted != 0 {
		return demoted
	}
	return best
}

// parabolicOffset refines the peak position by fitting a parabola through
// the magnitudes at bin-1, bin, bin+1. The offset stays within ±0.5 bins.
func parabolicOffset(mags []float64, bin int) float64 {
	if bin <= 0 || bin+1 >= len(mags) {
		return 0
	}
	alpha := mags[bin-1]
	beta := mags[bin]
	gamma := mags[bin+1]
	denom := alpha - 2*beta + gamma
	if denom == 0 {
		return 0
	}
	offset := 0.5 * (alpha - gamma) / denom
	if offset > 0.5 {
		offset = 0.5
	}
	if offset < -0.5 {
		offset = -0.5
	}
	return offset
}

// harmonicConfidence is the share of band energy sitting on the detected
// fundamental and its harmonics (one bin of slack each side). A clean tone
// approaches 1, broadband noise stays near 0.
func harmonicConfidence(mags []float64, bin, lowBin, highBin int) float64 {
	var bandEnergy float64
	for i := lowBin; i <= highBin && i < len(mags); i++ {
		bandEnergy += mags[i] * mags[i]
	}
	// Harmonics above highBin still count toward the harmonic energy; the
	// band divisor covers the search range the peak was chosen from.
	var harmonicEnergy float64
	for h := 1; h <= hpsHarmonics; h++ {
		center := bin * h
		for i := center - 1; i <= center+1; i++ {
			if i >= 1 && i < len(mags) {
				harmonicEnergy += mags[i] * mags[i]
			}
			if i >= lowBin && i <= highBin {
				continue
			}
			if i >= 1 && i < len(mags) {
				bandEnergy += mags[i] * mags[i]
			}
		}
	}
	if bandEnergy <= 0 {
		return 0
	}
	conf := harmonicEnergy / bandEnergy
	if conf > 1 {
		conf = 1
	}
	return conf
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
