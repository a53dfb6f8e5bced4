package worker

import "errors"

var (
	// ErrDispatcherBusy is returned when a job could not be queued in time or
	// the dispatcher stopped before running it.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrJobPanicked is returned by Submit when the job panicked.
	ErrJobPanicked = errors.New("job panicked")
)

type JobType int

const (
	Run JobType = iota
	Stop
)

func (t JobType) String() string {
	if t == Stop {
		return "stop"
	}
	return "run"
}

// Job is one unit of work queued under an owner. Owners are served round-robin.
type Job struct {
	Type  JobType
	Owner string
	Fn    func()
	done  chan error // buffered; receives the job's result exactly once
}
