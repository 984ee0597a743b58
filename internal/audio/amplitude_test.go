package audio

import (
	"math"
	"testing"

	"github.com/yungbote/samplegrid/internal/domain"
)

func sineWave(freq, amp float64, rate int, seconds float64) []float64 {
	n := int(float64(rate) * seconds)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestMeasureSine(t *testing.T) {
	samples := sineWave(440, 0.8, 44100, 1.0)

	m, err := NewRMSAnalyzer(0, nil).Measure(samples, 44100)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}

	wantRMS := 0.8 / math.Sqrt2
	if math.Abs(m.Level-wantRMS) > 0.01 {
		t.Fatalf("Level = %v, want about %v", m.Level, wantRMS)
	}
	if math.Abs(m.FullRMS-wantRMS) > 0.01 {
		t.Fatalf("FullRMS = %v, want about %v", m.FullRMS, wantRMS)
	}
	wantDB := 20 * math.Log10(wantRMS)
	if math.Abs(m.LevelDB-wantDB) > 0.2 {
		t.Fatalf("LevelDB = %v, want about %v", m.LevelDB, wantDB)
	}
	if m.Peak < 0.7 || m.Peak > 0.8+1e-9 {
		t.Fatalf("Peak = %v, want just under 0.8", m.Peak)
	}
}

func TestMeasureDefaultWindowIs500MS(t *testing.T) {
	// 250 hot samples then silence. A 500 ms window at 1 kHz covers 500
	// samples, half of them hot, so the level pins the window length.
	samples := make([]float64, 1000)
	for i := 0; i < 250; i++ {
		samples[i] = 1
	}

	m, err := NewRMSAnalyzer(0, nil).Measure(samples, 1000)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	want := math.Sqrt(250.0 / 500.0)
	if math.Abs(m.Level-want) > 1e-9 {
		t.Fatalf("Level = %v, want %v", m.Level, want)
	}
	wantFull := math.Sqrt(250.0 / 1000.0)
	if math.Abs(m.FullRMS-wantFull) > 1e-9 {
		t.Fatalf("FullRMS = %v, want %v", m.FullRMS, wantFull)
	}
}

func TestMeasureWindowClampsLow(t *testing.T) {
	// 50 ms of signal then 50 ms of silence. A request for a 50 ms window
	// must clamp up to 100 ms and see both halves.
	samples := make([]float64, 1000)
	for i := 0; i < 50; i++ {
		samples[i] = 1
	}

	m, err := NewRMSAnalyzer(50, nil).Measure(samples, 1000)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	want := math.Sqrt(50.0 / 100.0)
	if math.Abs(m.Level-want) > 1e-9 {
		t.Fatalf("Level = %v, want %v (window should clamp to 100 ms)", m.Level, want)
	}
}

func TestMeasureWindowClampsHigh(t *testing.T) {
	// 2 s hot then 1 s silent. A request for a 9999 ms window must clamp
	// down to 2000 ms and land entirely on the hot region.
	samples := make([]float64, 3000)
	for i := 0; i < 2000; i++ {
		samples[i] = 1
	}

	m, err := NewRMSAnalyzer(9999, nil).Measure(samples, 1000)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if math.Abs(m.Level-1) > 1e-9 {
		t.Fatalf("Level = %v, want 1 (window should clamp to 2000 ms)", m.Level)
	}
}

func TestMeasureShortClipUsesWholeClip(t *testing.T) {
	samples := sineWave(440, 0.5, 44100, 0.2)

	m, err := NewRMSAnalyzer(0, nil).Measure(samples, 44100)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if m.Level != m.FullRMS {
		t.Fatalf("Level %v != FullRMS %v for clip shorter than window", m.Level, m.FullRMS)
	}
}

func TestMeasureSilence(t *testing.T) {
	m, err := NewRMSAnalyzer(0, nil).Measure(make([]float64, 1000), 1000)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if m.Level != 0 || m.FullRMS != 0 || m.Peak != 0 {
		t.Fatalf("silent clip measured %+v, want zeros", m)
	}
	if m.LevelDB != -200 {
		t.Fatalf("LevelDB = %v, want -200 floor", m.LevelDB)
	}
}

func TestMeasureRejectsEmptyInput(t *testing.T) {
	a := NewRMSAnalyzer(0, nil)

	if _, err := a.Measure(nil, 44100); !domain.IsInsufficientData(err) {
		t.Fatalf("empty samples: got %v, want insufficient data error", err)
	}
	if _, err := a.Measure([]float64{0.5}, 0); !domain.IsInsufficientData(err) {
		t.Fatalf("zero rate: got %v, want insufficient data error", err)
	}
}
