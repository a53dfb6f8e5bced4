package audio

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"soultalk/internal/emotion"
)

// audioLabels maps the model's label names into the shared vocabulary.
var audioLabels = map[string]emotion.Label{
	"HAPPY":   emotion.Joy,
	"SAD":     emotion.Sadness,
	"ANGRY":   emotion.Anger,
	"NEUTRAL": emotion.Neutral,
}

// MapLabel translates a model label. Names outside the table fall back to
// the shared synonym list, and anything still unknown becomes UNKNOWN.
func MapLabel(raw string) emotion.Label {
	if l, ok := audioLabels[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return l
	}
	return emotion.Normalize(raw)
}

// Classifier owns the forest for the life of the process. The asset is read
// once; if that fails every call reports StatusUnavailable and the failure is
// logged a single time.
type Classifier struct {
	path   string
	logger *zap.Logger

	once    sync.Once
	mu      sync.RWMutex
	forest  *Forest
	loadErr error
}

func NewClassifier(path string, logger *zap.Logger) *Classifier {
	return &Classifier{path: path, logger: logger}
}

// Warm loads the asset now instead of on the first voice turn.
func (c *Classifier) Warm() error {
	c.load()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadErr
}

func (c *Classifier) load() {
	c.once.Do(func() {
		forest, err := LoadForest(c.path)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			c.logger.Warn("audio emotion model unavailable, voice turns will be UNKNOWN",
				zap.String("path", c.path), zap.Error(err))
			return
		}
		c.forest = forest
		c.logger.Info("audio emotion model loaded",
			zap.String("path", c.path),
			zap.String("version", forest.Version),
			zap.Int("trees", len(forest.Trees)),
			zap.Strings("labels", forest.Labels))
	})
}

// Available reports whether predictions can be made.
func (c *Classifier) Available() bool {
	c.load()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forest != nil
}

// Version is the loaded asset's version, empty when unavailable.
func (c *Classifier) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.forest == nil {
		return ""
	}
	return c.forest.Version
}

func (c *Classifier) Classify(features []float64) emotion.Outcome {
	c.load()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.forest == nil {
		err := c.loadErr
		if err == nil {
			err = ErrModelUnavailable
		}
		return emotion.Unavailable(err)
	}
	idx, prob, err := c.forest.Predict(features)
	if err != nil {
		return emotion.Failed(fmt.Errorf("predict: %w", err))
	}
	return emotion.Classified(MapLabel(c.forest.Labels[idx]), prob)
}

// Close releases the model. Later calls report StatusUnavailable.
func (c *Classifier) Close() {
	c.load()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forest = nil
	if c.loadErr == nil {
		c.loadErr = fmt.Errorf("%w: classifier closed", ErrModelUnavailable)
	}
}
