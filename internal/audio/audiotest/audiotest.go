// Package audiotest builds audio fixtures for tests.
package audiotest

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// WAV encodes interleaved samples in [-1, 1] as 16-bit PCM.
func WAV(samples []float64, sampleRate, channels int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*32767)))
	}
	return PCMToWAV(pcm, sampleRate, 16, channels)
}

// PCMToWAV prepends a 44-byte RIFF header.
func PCMToWAV(pcmData []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcmData)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))
	return append(header, pcmData...)
}

// Tone is a mono sine with a slow amplitude wobble so loudness varies.
func Tone(freq, seconds float64, sampleRate int) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		env := 0.35 + 0.15*math.Sin(2*math.Pi*3*t)
		out[i] = env * math.Sin(2*math.Pi*freq*t)
	}
	return out
}

// ModelJSON returns a single-tree forest asset: one split on feature 0 whose
// both leaves vote for labels[winner].
func ModelJSON(featureSet string, dim int, labels []string, winner int) []byte {
	vote := make([]float64, len(labels))
	vote[winner] = 3
	other := make([]float64, len(labels))
	other[winner] = 2
	other[(winner+1)%len(labels)] = 1
	asset := map[string]any{
		"version":     "test-1",
		"feature_set": featureSet,
		"feature_dim": dim,
		"labels":      labels,
		"trees": []any{
			map[string]any{"nodes": []any{
				map[string]any{"feature": 0, "threshold": -20.0, "left": 1, "right": 2},
				map[string]any{"feature": 0, "threshold": 0, "left": -1, "right": -1, "value": vote},
				map[string]any{"feature": 0, "threshold": 0, "left": -1, "right": -1, "value": other},
			}},
		},
	}
	data, _ := json.Marshal(asset)
	return data
}

// WriteModel stores a ModelJSON asset in a temp dir and returns its path.
func WriteModel(t testing.TB, featureSet string, dim int, labels []string, winner int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, ModelJSON(featureSet, dim, labels, winner), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}
