package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrDecode covers unparseable, corrupt, empty or unsupported audio.
	ErrDecode = errors.New("audio decode failed")
	// ErrExtraction is returned when a waveform cannot yield a feature vector.
	ErrExtraction = errors.New("feature extraction failed")
	// ErrModelUnavailable means the classifier asset could not be loaded.
	ErrModelUnavailable = errors.New("audio emotion model unavailable")
)

// Waveform is mono PCM in [-1, 1].
type Waveform struct {
	Samples    []float64
	SampleRate int
}

func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// Decoder turns WAV or MP3 bytes into a mono waveform at a fixed rate.
type Decoder struct {
	sampleRate  int
	maxDuration time.Duration
}

const (
	defaultMaxDuration = 60 * time.Second
	minWAVRate         = 1000
	maxWAVRate         = 384000
	maxWAVChannels     = 8
)

// NewDecoder returns a decoder resampling to sampleRate. Clips longer than
// maxDuration are cut; zero or less means 60s.
func NewDecoder(sampleRate int, maxDuration time.Duration) *Decoder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if maxDuration <= 0 {
		maxDuration = defaultMaxDuration
	}
	return &Decoder{sampleRate: sampleRate, maxDuration: maxDuration}
}

func (d *Decoder) SampleRate() int { return d.sampleRate }

func (d *Decoder) Decode(data []byte) (w Waveform, err error) {
	// third-party decoders can panic on hostile input
	defer func() {
		if r := recover(); r != nil {
			w, err = Waveform{}, fmt.Errorf("%w: decoder panic: %v", ErrDecode, r)
		}
	}()

	if len(data) < 12 {
		return Waveform{}, fmt.Errorf("%w: input too short", ErrDecode)
	}

	var (
		samples []float64
		rate    int
	)
	switch {
	case string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		samples, rate, err = decodeWAV(data)
	case string(data[0:3]) == "ID3" || (data[0] == 0xFF && data[1]&0xE0 == 0xE0):
		samples, rate, err = decodeMP3(data)
	default:
		return Waveform{}, fmt.Errorf("%w: unrecognized container", ErrDecode)
	}
	if err != nil {
		return Waveform{}, err
	}
	if len(samples) == 0 || rate <= 0 {
		return Waveform{}, fmt.Errorf("%w: no audio samples", ErrDecode)
	}

	if limit := int(d.maxDuration.Seconds() * float64(rate)); limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	samples = resample(samples, rate, d.sampleRate)
	if len(samples) == 0 {
		return Waveform{}, fmt.Errorf("%w: no audio samples after resampling", ErrDecode)
	}
	return Waveform{Samples: samples, SampleRate: d.sampleRate}, nil
}

func decodeWAV(data []byte) ([]float64, int, error) {
	if err := checkWAVLayout(data); err != nil {
		return nil, 0, err
	}
	probe := wav.NewDecoder(bytes.NewReader(data))
	if !probe.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: invalid wav header", ErrDecode)
	}
	// 1 = integer PCM, 0xFFFE = WAVE_FORMAT_EXTENSIBLE
	if probe.WavAudioFormat != 1 && probe.WavAudioFormat != 0xFFFE {
		return nil, 0, fmt.Errorf("%w: unsupported wav encoding %d", ErrDecode, probe.WavAudioFormat)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read wav pcm: %v", ErrDecode, err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty wav data", ErrDecode)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, 0, fmt.Errorf("%w: wav has no channels", ErrDecode)
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth != 8 && bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, 0, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, bitDepth)
	}

	scale := math.Exp2(float64(bitDepth - 1))
	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			v := float64(buf.Data[i*channels+c])
			if bitDepth == 8 {
				// 8-bit wav is unsigned
				v -= 128
			}
			sum += v / scale
		}
		mono[i] = sum / float64(channels)
	}
	return mono, buf.Format.SampleRate, nil
}

// checkWAVLayout walks the chunk list up to the data chunk. go-audio sizes its
// buffers from the chunk headers, so sizes pointing past the input are
// rejected here, along with formats the decoder cannot handle.
func checkWAVLayout(data []byte) error {
	pos := 12
	sawFmt := false
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int64(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		remaining := int64(len(data) - pos)
		if id == "data" {
			// recorders often leave the data size unset; the reader stops at EOF
			if !sawFmt {
				return fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			return nil
		}
		if size > remaining {
			return fmt.Errorf("%w: %q chunk claims %d bytes, %d left", ErrDecode, id, size, remaining)
		}
		if id == "fmt " {
			if size != 16 && size != 18 && size != 40 {
				return fmt.Errorf("%w: fmt chunk size %d", ErrDecode, size)
			}
			if err := checkWAVFormat(data[pos : pos+int(size)]); err != nil {
				return err
			}
			sawFmt = true
		}
		pos += int(size + size&1)
	}
	return fmt.Errorf("%w: no data chunk", ErrDecode)
}

func checkWAVFormat(f []byte) error {
	format := binary.LittleEndian.Uint16(f[0:2])
	channels := int(binary.LittleEndian.Uint16(f[2:4]))
	rate := int(binary.LittleEndian.Uint32(f[4:8]))
	bits := int(binary.LittleEndian.Uint16(f[14:16]))
	switch {
	case format != 1 && format != 0xFFFE:
		return fmt.Errorf("%w: unsupported wav encoding %d", ErrDecode, format)
	case channels < 1 || channels > maxWAVChannels:
		return fmt.Errorf("%w: %d channels", ErrDecode, channels)
	case rate < minWAVRate || rate > maxWAVRate:
		return fmt.Errorf("%w: sample rate %d", ErrDecode, rate)
	case bits != 8 && bits != 16 && bits != 24 && bits != 32:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, bits)
	}
	return nil
}

func decodeMP3(data []byte) ([]float64, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open mp3: %v", ErrDecode, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil && len(pcm) == 0 {
		return nil, 0, fmt.Errorf("%w: read mp3: %v", ErrDecode, err)
	}
	// go-mp3 always yields 16-bit little-endian stereo
	frames := len(pcm) / 4
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		mono[i] = (float64(l) + float64(r)) / 2 / 32768
	}
	return mono, dec.SampleRate(), nil
}
