package emotion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SessionPinner is the slice of the session registry the dispatcher needs.
type SessionPinner interface {
	PinnedEmotion(ctx context.Context, sessionID string) (Label, bool, error)
	PinEmotionIfUnset(ctx context.Context, sessionID string, label Label) (Label, bool, error)
}

// TextClassifier returns a raw label and its confidence for a piece of text.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (string, float64, error)
}

// AudioClassifier runs the decode/extract/classify pipeline for one clip.
// Faults are reported through the Outcome, never as an error.
type AudioClassifier interface {
	ClassifyAudio(ctx context.Context, owner string, data []byte) Outcome
}

type Source string

const (
	SourcePinned Source = "pinned"
	SourceText   Source = "text"
	SourceAudio  Source = "audio"
)

// Resolution is the emotion a turn carries.
type Resolution struct {
	Label Label
	// Confidence is set only when a classifier ran in this request and its
	// label is the one that ended up pinned.
	Confidence *float64
	JustPinned bool
	Source     Source
	// Outcome is the audio result, nil for text or already-pinned sessions.
	Outcome *Outcome
}

// Dispatcher decides the emotion of a turn: it reuses the session's pinned
// label, or classifies the input and pins the result.
type Dispatcher struct {
	sessions SessionPinner
	text     TextClassifier
	audio    AudioClassifier
	logger   *zap.Logger
}

func NewDispatcher(sessions SessionPinner, text TextClassifier, audio AudioClassifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sessions: sessions, text: text, audio: audio, logger: logger}
}

// ResolveText classifies text for an unpinned session. A classifier failure is
// returned wrapped in ErrClassificationUnavailable and nothing is pinned.
func (d *Dispatcher) ResolveText(ctx context.Context, sessionID, text string) (Resolution, error) {
	if res, ok, err := d.reusePinned(ctx, sessionID); err != nil || ok {
		return res, err
	}
	if d.text == nil {
		return Resolution{}, fmt.Errorf("%w: no text classifier configured", ErrClassificationUnavailable)
	}

	raw, confidence, err := d.text.Classify(ctx, text)
	if err != nil {
		d.logger.Warn("text emotion classification failed", zap.String("session_id", sessionID), zap.Error(err))
		return Resolution{}, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}
	label := Normalize(raw)
	d.logger.Debug("text emotion classified",
		zap.String("session_id", sessionID),
		zap.String("raw", raw),
		zap.String("label", label.String()),
		zap.Float64("confidence", confidence))

	return d.pin(ctx, sessionID, label, &confidence, SourceText, nil)
}

// ResolveAudio classifies a clip for an unpinned session. It only fails when
// the session store does; every audio fault resolves to Unknown.
func (d *Dispatcher) ResolveAudio(ctx context.Context, owner, sessionID string, data []byte) (Resolution, error) {
	if res, ok, err := d.reusePinned(ctx, sessionID); err != nil || ok {
		return res, err
	}

	var out Outcome
	if d.audio == nil {
		out = Unavailable(errors.New("no audio classifier configured"))
	} else {
		out = d.audio.ClassifyAudio(ctx, owner, data)
	}

	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("status", out.Status.String()),
		zap.String("label", out.Effective().String()),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	if out.Status == StatusFailed {
		d.logger.Warn("audio emotion classification failed", fields...)
	} else {
		d.logger.Info("audio emotion resolved", fields...)
	}

	var confidence *float64
	if out.Status == StatusClassified {
		c := out.Confidence
		confidence = &c
	}
	return d.pin(ctx, sessionID, out.Effective(), confidence, SourceAudio, &out)
}

func (d *Dispatcher) reusePinned(ctx context.Context, sessionID string) (Resolution, bool, error) {
	label, ok, err := d.sessions.PinnedEmotion(ctx, sessionID)
	if err != nil {
		return Resolution{}, false, err
	}
	if !ok {
		return Resolution{}, false, nil
	}
	return Resolution{Label: label, Source: SourcePinned}, true, nil
}

func (d *Dispatcher) pin(ctx context.Context, sessionID string, label Label, confidence *float64, source Source, out *Outcome) (Resolution, error) {
	effective, justPinned, err := d.sessions.PinEmotionIfUnset(ctx, sessionID, label)
	if err != nil {
		return Resolution{}, err
	}
	if effective != label {
		// a concurrent turn pinned first
		d.logger.Info("emotion already pinned by a concurrent turn",
			zap.String("session_id", sessionID),
			zap.String("classified", label.String()),
			zap.String("pinned", effective.String()))
		confidence = nil
	}
	if justPinned {
		d.logger.Info("session emotion pinned",
			zap.String("session_id", sessionID),
			zap.String("label", effective.String()),
			zap.String("source", string(source)))
	}
	return Resolution{
		Label:      effective,
		Confidence: confidence,
		JustPinned: justPinned,
		Source:     source,
		Outcome:    out,
	}, nil
}
