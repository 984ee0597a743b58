package midiutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	MinMIDI = 0
	MaxMIDI = 127

	A4MIDI        = 69
	A4FrequencyHz = 440.0

	// Export velocity range is fixed by the file naming scheme, velocity
	// layers 0..7.
	ExportMinVelocity = 0
	ExportMaxVelocity = 7

	DefaultSampleRate = 44100
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName renders a MIDI note as scientific pitch, 60 -> "C4". Out-of-range
// input yields the empty string.
func NoteName(midi int) string {
	if midi < MinMIDI || midi > MaxMIDI {
		return ""
	}
	octave := midi/12 - 1
	return fmt.Sprintf("%s%d", noteNames[midi%12], octave)
}

func MIDIToFrequency(midi int) float64 {
	return A4FrequencyHz * math.Pow(2, float64(midi-A4MIDI)/12.0)
}

// FrequencyToMIDIFloat maps a positive frequency to the unrounded MIDI
// scale. Callers guard freq > 0.
func FrequencyToMIDIFloat(freq float64) float64 {
	return float64(A4MIDI) + 12*math.Log2(freq/A4FrequencyHz)
}

// FrequencyToMIDI rounds to the nearest note and clamps to 0..127.
func FrequencyToMIDI(freq float64) int {
	midi := int(math.Round(FrequencyToMIDIFloat(freq)))
	if midi < MinMIDI {
		return MinMIDI
	}
	if midi > MaxMIDI {
		return MaxMIDI
	}
	return midi
}

// ExportFileName builds the export naming scheme m060-vel0-f44.wav: zero
// padded MIDI note, velocity layer, sample rate in kHz.
func ExportFileName(midi, velocity, sampleRate int) (string, error) {
	if midi < MinMIDI || midi > MaxMIDI {
		return "", fmt.Errorf("ExportFileName: midi %d outside %d..%d", midi, MinMIDI, MaxMIDI)
	}
	if velocity < ExportMinVelocity || velocity > ExportMaxVelocity {
		return "", fmt.Errorf("ExportFileName: velocity %d outside %d..%d", velocity, ExportMinVelocity, ExportMaxVelocity)
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return fmt.Sprintf("m%03d-vel%d-f%d.wav", midi, velocity, sampleRate/1000), nil
}

// ParseExportFileName inverts ExportFileName, returning midi, velocity and
// sample rate in Hz.
func ParseExportFileName(name string) (midi, velocity, sampleRate int, err error) {
	base := name
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		base = base[:idx]
	}
	parts := strings.Split(base, "-")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("ParseExportFileName: %q is not mXXX-velY-fZZ", name)
	}
	if !strings.HasPrefix(parts[0], "m") {
		return 0, 0, 0, fmt.Errorf("ParseExportFileName: %q missing m prefix", name)
	}
	midi, err = strconv.Atoi(parts[0][1:])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("ParseExportFileName: bad midi in %q: %w", name, err)
	}
	if !strings.HasPrefix(parts[1], "vel") {
		return 0, 0, 0, fmt.Errorf("ParseExportFileName: %q missing vel prefix", name)
	}
	velocity, err = strconv.Atoi(parts[1][3:])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("ParseExportFileName: bad velocity in %q: %w", name, err)
	}
	if !strings.HasPrefix(parts[2], "f") {
		return 0, 0, 0, fmt.Errorf("ParseExportFileName: %q missing f prefix", name)
	}
	khz, err := strconv.Atoi(parts[2][1:])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("ParseExportFileName: bad sample rate in %q: %w", name, err)
	}
	// The kHz tag is shorthand: f44 names the 44.1k rate.
	switch khz {
	case 44:
		sampleRate = 44100
	default:
		sampleRate = khz * 1000
	}
	return midi, velocity, sampleRate, nil
}
