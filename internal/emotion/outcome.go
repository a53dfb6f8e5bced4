package emotion

import "errors"

// ErrClassificationUnavailable means the text classifier could not produce a label.
var ErrClassificationUnavailable = errors.New("emotion classification unavailable")

// Status tags how an audio classification attempt ended.
type Status int

const (
	StatusClassified Status = iota
	// StatusUnavailable: the model asset never loaded.
	StatusUnavailable
	// StatusFailed: decoding, feature extraction or scheduling failed for this clip.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusClassified:
		return "classified"
	case StatusUnavailable:
		return "unavailable"
	case StatusFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Outcome is the result of the audio path. It is never an error: anything
// but StatusClassified resolves to Unknown.
type Outcome struct {
	Status     Status
	Label      Label
	Confidence float64
	// Err carries the underlying cause for logging when Status != StatusClassified.
	Err error
}

func Classified(label Label, confidence float64) Outcome {
	return Outcome{Status: StatusClassified, Label: label, Confidence: confidence}
}

func Unavailable(err error) Outcome {
	return Outcome{Status: StatusUnavailable, Label: Unknown, Err: err}
}

func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Label: Unknown, Err: err}
}

// Effective is the label this outcome contributes to a session.
func (o Outcome) Effective() Label {
	if o.Status != StatusClassified || !o.Label.Valid() {
		return Unknown
	}
	return o.Label
}
