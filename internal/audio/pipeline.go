package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"soultalk/internal/emotion"
	"soultalk/internal/worker"
)

// Pipeline runs decode, extract and classify for one clip on the worker pool.
// It never returns an error: every failure becomes an Outcome that resolves to UNKNOWN.
type Pipeline struct {
	decoder    *Decoder
	extract    func(Waveform) ([]float64, error)
	classifier *Classifier
	pool       *worker.Dispatcher
	logger     *zap.Logger
}

// NewPipeline wires the stages. A nil pool runs the work on the caller's goroutine.
func NewPipeline(decoder *Decoder, extractor *Extractor, classifier *Classifier, pool *worker.Dispatcher, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		decoder:    decoder,
		extract:    extractor.Extract,
		classifier: classifier,
		pool:       pool,
		logger:     logger,
	}
}

func (p *Pipeline) ClassifyAudio(ctx context.Context, owner string, data []byte) emotion.Outcome {
	if !p.classifier.Available() {
		return p.classifier.Classify(nil)
	}
	if p.pool == nil {
		return p.run(data)
	}

	result := make(chan emotion.Outcome, 1)
	if err := p.pool.Submit(ctx, owner, func() { result <- p.run(data) }); err != nil {
		return emotion.Failed(fmt.Errorf("schedule audio job: %w", err))
	}
	select {
	case out := <-result:
		return out
	default:
		return emotion.Failed(errors.New("audio job finished without a result"))
	}
}

func (p *Pipeline) run(data []byte) (out emotion.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = emotion.Failed(fmt.Errorf("audio pipeline panic: %v", r))
		}
	}()
	start := time.Now()
	wave, err := p.decoder.Decode(data)
	if err != nil {
		return emotion.Failed(err)
	}
	features, err := p.extract(wave)
	if err != nil {
		return emotion.Failed(err)
	}
	out = p.classifier.Classify(features)
	p.logger.Debug("audio classified",
		zap.String("status", out.Status.String()),
		zap.String("label", string(out.Label)),
		zap.Float64("confidence", out.Confidence),
		zap.Duration("clip", wave.Duration()),
		zap.Int("sample_rate", p.decoder.SampleRate()),
		zap.Duration("elapsed", time.Since(start)))
	return out
}

// ModelAvailable reports classifier readiness for health checks.
func (p *Pipeline) ModelAvailable() bool { return p.classifier.Available() }
