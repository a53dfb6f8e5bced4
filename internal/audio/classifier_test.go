package audio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"soultalk/internal/audio/audiotest"
	"soultalk/internal/emotion"
)

var modelLabels = []string{"ANGRY", "HAPPY", "NEUTRAL", "SAD"}

func TestMapLabel(t *testing.T) {
	assert.Equal(t, emotion.Joy, MapLabel("HAPPY"))
	assert.Equal(t, emotion.Sadness, MapLabel("sad"))
	assert.Equal(t, emotion.Anger, MapLabel(" Angry "))
	assert.Equal(t, emotion.Neutral, MapLabel("NEUTRAL"))
	assert.Equal(t, emotion.Fear, MapLabel("fear"))
	assert.Equal(t, emotion.Unknown, MapLabel("bored"))
}

func TestForestValidate(t *testing.T) {
	load := func(mutate func(*Forest)) error {
		var f Forest
		require.NoError(t, json.Unmarshal(audiotest.ModelJSON(FeatureSetName, FeatureDim, modelLabels, 1), &f))
		mutate(&f)
		return f.Validate()
	}

	assert.NoError(t, load(func(*Forest) {}))
	assert.Error(t, load(func(f *Forest) { f.Version = "" }))
	assert.Error(t, load(func(f *Forest) { f.FeatureSet = "mfcc-v0" }))
	assert.Error(t, load(func(f *Forest) { f.FeatureDim = 10 }))
	assert.Error(t, load(func(f *Forest) { f.Labels = f.Labels[:1] }))
	assert.Error(t, load(func(f *Forest) { f.Trees = nil }))
	assert.Error(t, load(func(f *Forest) { f.Trees[0].Nodes[0].Left = 0 }))
	assert.Error(t, load(func(f *Forest) { f.Trees[0].Nodes[0].Feature = FeatureDim }))
	assert.Error(t, load(func(f *Forest) { f.Trees[0].Nodes[1].Value = []float64{1} }))
	assert.Error(t, load(func(f *Forest) {
		f.Scaler = &Scaler{Mean: make([]float64, FeatureDim), Scale: make([]float64, FeatureDim)}
	}))
}

func TestForestPredict(t *testing.T) {
	var f Forest
	require.NoError(t, json.Unmarshal(audiotest.ModelJSON(FeatureSetName, FeatureDim, modelLabels, 3), &f))

	low := make([]float64, FeatureDim)
	low[0] = -40
	idx, prob, err := f.Predict(low)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
	assert.InDelta(t, 1.0, prob, 1e-9)

	high := make([]float64, FeatureDim)
	idx, prob, err = f.Predict(high)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
	assert.InDelta(t, 2.0/3.0, prob, 1e-9)

	_, _, err = f.Predict(make([]float64, 3))
	assert.Error(t, err)
}

func TestForestPredictTieGoesToLowerIndex(t *testing.T) {
	f := Forest{
		Version: "tie", FeatureSet: FeatureSetName, FeatureDim: FeatureDim, Labels: []string{"SAD", "HAPPY"},
		Trees: []Tree{{Nodes: []Node{{Left: leafMarker, Right: leafMarker, Value: []float64{1, 1}}}}},
	}
	require.NoError(t, f.Validate())
	idx, prob, err := f.Predict(make([]float64, FeatureDim))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.InDelta(t, 0.5, prob, 1e-9)
}

func TestClassifierPredictsMappedLabel(t *testing.T) {
	path := audiotest.WriteModel(t, FeatureSetName, FeatureDim, modelLabels, 1)
	c := NewClassifier(path, zaptest.NewLogger(t))

	require.NoError(t, c.Warm())
	assert.True(t, c.Available())
	assert.Equal(t, "test-1", c.Version())

	out := c.Classify(make([]float64, FeatureDim))
	assert.Equal(t, emotion.StatusClassified, out.Status)
	assert.Equal(t, emotion.Joy, out.Label)
	assert.Greater(t, out.Confidence, 0.5)

	out = c.Classify(make([]float64, 2))
	assert.Equal(t, emotion.StatusFailed, out.Status)
	assert.Equal(t, emotion.Unknown, out.Effective())

	c.Close()
	assert.False(t, c.Available())
	assert.Equal(t, emotion.StatusUnavailable, c.Classify(make([]float64, FeatureDim)).Status)
}

func TestClassifierMissingAssetLogsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := NewClassifier(filepath.Join(t.TempDir(), "absent.json"), zap.New(core))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := c.Classify(make([]float64, FeatureDim))
			assert.Equal(t, emotion.StatusUnavailable, out.Status)
			assert.ErrorIs(t, out.Err, ErrModelUnavailable)
			assert.Equal(t, emotion.Unknown, out.Effective())
		}()
	}
	wg.Wait()

	assert.ErrorIs(t, c.Warm(), ErrModelUnavailable)
	assert.False(t, c.Available())
	assert.Equal(t, 1, logs.Len())
}

func TestClassifierRejectsForeignFeatureSet(t *testing.T) {
	path := audiotest.WriteModel(t, "mfcc-v0", FeatureDim, modelLabels, 1)
	c := NewClassifier(path, zaptest.NewLogger(t))
	assert.ErrorIs(t, c.Warm(), ErrModelUnavailable)

	garbled := filepath.Join(t.TempDir(), "garbled.json")
	require.NoError(t, os.WriteFile(garbled, []byte("{not json"), 0o600))
	assert.ErrorIs(t, NewClassifier(garbled, zaptest.NewLogger(t)).Warm(), ErrModelUnavailable)
}
