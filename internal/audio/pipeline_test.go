package audio

import (
	"context"
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"soultalk/internal/audio/audiotest"
	"soultalk/internal/emotion"
	"soultalk/internal/worker"
)

func newTestPipeline(t *testing.T, modelPath string, pool *worker.Dispatcher) *Pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewPipeline(NewDecoder(16000, 30*time.Second), NewExtractor(), NewClassifier(modelPath, logger), pool, logger)
}

func TestPipelineInline(t *testing.T) {
	p := newTestPipeline(t, audiotest.WriteModel(t, FeatureSetName, FeatureDim, modelLabels, 3), nil)
	clip := audiotest.WAV(audiotest.Tone(180, 1.5, 22050), 22050, 1)

	out := p.ClassifyAudio(context.Background(), "s1", clip)
	require.Equal(t, emotion.StatusClassified, out.Status, "err: %v", out.Err)
	assert.Equal(t, emotion.Sadness, out.Label)
	assert.True(t, p.ModelAvailable())
}

func TestPipelineUndecodableIsFailed(t *testing.T) {
	p := newTestPipeline(t, audiotest.WriteModel(t, FeatureSetName, FeatureDim, modelLabels, 1), nil)

	out := p.ClassifyAudio(context.Background(), "s1", []byte("this is plainly not audio data"))
	assert.Equal(t, emotion.StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrDecode)
	assert.Equal(t, emotion.Unknown, out.Effective())

	tiny := audiotest.WAV(make([]float64, 100), 16000, 1)
	out = p.ClassifyAudio(context.Background(), "s1", tiny)
	assert.Equal(t, emotion.StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrExtraction)
}

func TestPipelineModelMissing(t *testing.T) {
	p := newTestPipeline(t, filepath.Join(t.TempDir(), "none.json"), nil)
	clip := audiotest.WAV(audiotest.Tone(180, 1, 16000), 16000, 1)

	out := p.ClassifyAudio(context.Background(), "s1", clip)
	assert.Equal(t, emotion.StatusUnavailable, out.Status)
	assert.Equal(t, emotion.Unknown, out.Effective())
	assert.False(t, p.ModelAvailable())
}

func TestPipelineOnWorkerPool(t *testing.T) {
	pool := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers: 1, MaxWorkers: 2, QueueSize: 8, QueueWait: 5 * time.Second,
	}, zaptest.NewLogger(t))
	t.Cleanup(pool.Stop)

	p := newTestPipeline(t, audiotest.WriteModel(t, FeatureSetName, FeatureDim, modelLabels, 1), pool)
	clip := audiotest.WAV(audiotest.Tone(220, 1, 16000), 16000, 1)

	var wg sync.WaitGroup
	for _, owner := range []string{"a", "b", "c", "a"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			out := p.ClassifyAudio(context.Background(), owner, clip)
			assert.Equal(t, emotion.StatusClassified, out.Status)
			assert.Equal(t, emotion.Joy, out.Label)
		}(owner)
	}
	wg.Wait()
}

// Every corrupted clip must resolve, classified or UNKNOWN, without hanging.
func TestPipelineSurvivesCorruptHeaders(t *testing.T) {
	pool := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers: 1, MaxWorkers: 2, QueueSize: 8, QueueWait: 5 * time.Second,
	}, zaptest.NewLogger(t))
	t.Cleanup(pool.Stop)
	p := newTestPipeline(t, audiotest.WriteModel(t, FeatureSetName, FeatureDim, modelLabels, 1), pool)

	base := audiotest.WAV(audiotest.Tone(220, 0.5, 16000), 16000, 1)
	var inputs [][]byte
	for off := 0; off < 44; off++ {
		for _, v := range []byte{0x00, 0x01, 0x7F, 0xFF} {
			b := append([]byte{}, base...)
			b[off] = v
			inputs = append(inputs, b)
		}
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		b := append([]byte{}, base...)
		off := rng.Intn(44 - 4)
		binary.LittleEndian.PutUint32(b[off:], rng.Uint32())
		inputs = append(inputs, b[:44+rng.Intn(len(b)-44)])
	}
	for i := 0; i < 20; i++ {
		b := make([]byte, 64+rng.Intn(2048))
		rng.Read(b)
		b[0], b[1] = 0xFF, 0xFB
		inputs = append(inputs, b)
	}

	for i, data := range inputs {
		done := make(chan emotion.Outcome, 1)
		go func() { done <- p.ClassifyAudio(context.Background(), "fuzz", data) }()
		select {
		case out := <-done:
			label := out.Effective()
			if label != emotion.Unknown && label != emotion.Joy {
				t.Fatalf("input %d: unexpected label %s", i, label)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("input %d: pipeline did not return", i)
		}
	}
}

func TestPipelineRecoversFromPanickingStage(t *testing.T) {
	pool := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers: 1, MaxWorkers: 1, QueueSize: 4, QueueWait: time.Second,
	}, zaptest.NewLogger(t))
	t.Cleanup(pool.Stop)
	p := newTestPipeline(t, audiotest.WriteModel(t, FeatureSetName, FeatureDim, modelLabels, 1), pool)
	p.extract = func(Waveform) ([]float64, error) { panic("index out of range") }

	done := make(chan emotion.Outcome, 1)
	go func() {
		done <- p.ClassifyAudio(context.Background(), "a", audiotest.WAV(audiotest.Tone(220, 0.5, 16000), 16000, 1))
	}()
	select {
	case out := <-done:
		assert.Equal(t, emotion.StatusFailed, out.Status)
		assert.Equal(t, emotion.Unknown, out.Effective())
	case <-time.After(5 * time.Second):
		t.Fatal("panicking job left the caller waiting")
	}
}
