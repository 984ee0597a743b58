package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/yungbote/samplegrid/internal/domain"
	"github.com/yungbote/samplegrid/internal/platform/logger"
)

// Hard ceiling on the data chunk so a malformed header cannot make us
// allocate the universe.
const maxDataBytes = 512 << 20

const (
	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

var (
	subFormatPCM   = [16]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}
	subFormatFloat = [16]byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}
)

// Clip is decoded audio: one float64 slice per channel, values in [-1, 1].
type Clip struct {
	Channels   [][]float64
	SampleRate int
}

func (c *Clip) Frames() int {
	if len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.Frames()) / float64(c.SampleRate) * float64(time.Second))
}

// Mono downmixes to a single channel by per-frame channel mean.
func (c *Clip) Mono() []float64 {
	if len(c.Channels) == 0 {
		return nil
	}
	if len(c.Channels) == 1 {
		return c.Channels[0]
	}
	frames := c.Frames()
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for _, ch := range c.Channels {
			sum += ch[i]
		}
		out[i] = sum / float64(len(c.Channels))
	}
	return out
}

// Decoder turns an audio file into a Clip. Unreadable files fail with
// IOError, anything that is not WAV PCM/IEEE-float with
// UnsupportedFormatError.
type Decoder interface {
	Decode(path string) (*Clip, error)
}

type wavDecoder struct {
	log *logger.Logger
}

func NewWAVDecoder(log *logger.Logger) Decoder {
	if log == nil {
		log = logger.Nop()
	}
	return &wavDecoder{log: log.With("service", "WAVDecoder")}
}

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	byteRate      uint32
	blockAlign    uint16
	bitsPerSample uint16
	subFormat     [16]byte
	hasSubFormat  bool
}

func (d *wavDecoder) Decode(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.IOError{Path: path, Err: err}
	}
	defer f.Close()

	format, data, err := readRIFF(f)
	if err != nil {
		if _, ok := err.(*domain.UnsupportedFormatError); ok {
			return nil, err
		}
		return nil, &domain.IOError{Path: path, Err: err}
	}

	clip, err := decodeSamples(format, data)
	if err != nil {
		return nil, &domain.UnsupportedFormatError{Path: path, Detail: err.Error()}
	}
	d.log.Debug("decoded wav",
		"path", path,
		"sample_rate", clip.SampleRate,
		"channels", len(clip.Channels),
		"frames", clip.Frames(),
	)
	return clip, nil
}

// readRIFF walks the chunk list until it has both fmt and data. Unknown
// chunks are skipped, honoring RIFF word alignment.
func readRIFF(f *os.File) (wavFormat, []byte, error) {
	var format wavFormat

	var riff [4]byte
	if err := binary.Read(f, binary.LittleEndian, &riff); err != nil {
		return format, nil, unsupported(f.Name(), "missing RIFF header")
	}
	if string(riff[:]) != "RIFF" {
		return format, nil, unsupported(f.Name(), "missing RIFF header")
	}
	var riffSize uint32
	if err := binary.Read(f, binary.LittleEndian, &riffSize); err != nil {
		return format, nil, err
	}
	var wave [4]byte
	if err := binary.Read(f, binary.LittleEndian, &wave); err != nil {
		return format, nil, err
	}
	if string(wave[:]) != "WAVE" {
		return format, nil, unsupported(f.Name(), "missing WAVE marker")
	}

	fmtFound := false
	for {
		var chunkID [4]byte
		if err := binary.Read(f, binary.LittleEndian, &chunkID); err != nil {
			if err == io.EOF {
				break
			}
			return format, nil, err
		}
		var chunkSize uint32
		if err := binary.Read(f, binary.LittleEndian, &chunkSize); err != nil {
			return format, nil, err
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if chunkSize < 16 {
				return format, nil, unsupported(f.Name(), fmt.Sprintf("fmt chunk too small: %d", chunkSize))
			}
			if err := readFmtChunk(f, chunkSize, &format); err != nil {
				return format, nil, err
			}
			fmtFound = true

		case "data":
			if !fmtFound {
				return format, nil, unsupported(f.Name(), "data chunk before fmt chunk")
			}
			if chunkSize == 0 {
				return format, nil, unsupported(f.Name(), "empty data chunk")
			}
			if chunkSize > maxDataBytes {
				return format, nil, unsupported(f.Name(), fmt.Sprintf("data chunk too large: %d bytes", chunkSize))
			}
			data := make([]byte, chunkSize)
			n, err := io.ReadFull(f, data)
			if err == io.ErrUnexpectedEOF {
				// Truncated files keep whatever frames made it to disk.
				data = data[:n]
			} else if err != nil {
				return format, nil, err
			}
			return format, data, nil

		default:
			skip := int64(chunkSize) + int64(chunkSize&1)
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return format, nil, err
			}
		}
	}

	return format, nil, unsupported(f.Name(), "no data chunk")
}

func readFmtChunk(f *os.File, chunkSize uint32, format *wavFormat) error {
	fields := []any{
		&format.audioFormat,
		&format.channels,
		&format.sampleRate,
		&format.byteRate,
		&format.blockAlign,
		&format.bitsPerSample,
	}
	for _, field := range fields {
		if err := binary.Read(f, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if chunkSize > 16 {
		extra := make([]byte, chunkSize-16)
		if _, err := io.ReadFull(f, extra); err != nil {
			return err
		}
		if format.audioFormat == formatExtensible {
			// Extension layout: cbSize(2) validBits(2) channelMask(4) GUID(16).
			if len(extra) < 24 {
				return unsupported(f.Name(), "extensible fmt chunk truncated")
			}
			copy(format.subFormat[:], extra[8:24])
			format.hasSubFormat = true
		}
	}
	return nil
}

func unsupported(path, detail string) error {
	return &domain.UnsupportedFormatError{Path: path, Detail: detail}
}

func decodeSamples(format wavFormat, data []byte) (*Clip, error) {
	isPCM := format.audioFormat == formatPCM
	isFloat := format.audioFormat == formatFloat
	if format.audioFormat == formatExtensible {
		if !format.hasSubFormat {
			return nil, fmt.Errorf("extensible format without subformat GUID")
		}
		switch format.subFormat {
		case subFormatPCM:
			isPCM = true
		case subFormatFloat:
			isFloat = true
		default:
			return nil, fmt.Errorf("unsupported extensible subformat")
		}
	}
	if !isPCM && !isFloat {
		return nil, fmt.Errorf("unsupported audio format code %d", format.audioFormat)
	}
	if format.channels == 0 {
		return nil, fmt.Errorf("zero channels")
	}
	if format.sampleRate == 0 {
		return nil, fmt.Errorf("zero sample rate")
	}
	bytesPerSample := int(format.bitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("zero bit depth")
	}
	frameSize := bytesPerSample * int(format.channels)
	if format.blockAlign != 0 && int(format.blockAlign) != frameSize {
		return nil, fmt.Errorf("block align %d does not match %d channels at %d bits",
			format.blockAlign, format.channels, format.bitsPerSample)
	}

	frames := len(data) / frameSize
	channels := make([][]float64, format.channels)
	for i := range channels {
		channels[i] = make([]float64, frames)
	}

	for frame := 0; frame < frames; frame++ {
		base := frame * frameSize
		for ch := 0; ch < int(format.channels); ch++ {
			raw := data[base+ch*bytesPerSample:]
			var sample float64
			switch {
			case isFloat && format.bitsPerSample == 32:
				sample = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
			case isFloat && format.bitsPerSample == 64:
				sample = math.Float64frombits(binary.LittleEndian.Uint64(raw))
			case isFloat:
				return nil, fmt.Errorf("unsupported float bit depth: %d", format.bitsPerSample)
			case format.bitsPerSample == 8:
				// 8-bit PCM is unsigned.
				sample = (float64(raw[0]) - 128) / 128.0
			case format.bitsPerSample == 16:
				sample = float64(int16(binary.LittleEndian.Uint16(raw))) / 32768.0
			case format.bitsPerSample == 24:
				val := int32(raw[0]) | int32(raw[1])<<8 | int32(raw[2])<<16
				if val&0x800000 != 0 {
					val |= ^0xFFFFFF
				}
				sample = float64(val) / 8388608.0
			case format.bitsPerSample == 32:
				sample = float64(int32(binary.LittleEndian.Uint32(raw))) / 2147483648.0
			default:
				return nil, fmt.Errorf("unsupported PCM bit depth: %d", format.bitsPerSample)
			}
			channels[ch][frame] = sample
		}
	}

	return &Clip{Channels: channels, SampleRate: int(format.sampleRate)}, nil
}
