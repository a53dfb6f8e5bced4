package worker

import (
	"fmt"

	"go.uber.org/zap"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
	logger     *zap.Logger
}

func NewWorker(id int, pool *jobChannelPool, logger *zap.Logger) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		logger:     logger,
	}
}

// Start parks the worker in the idle list and serves jobs until told to stop.
func (w *Worker) Start() {
	go func() {
		w.pool.Release(w.jobChannel)
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		var err error
		if r := recover(); r != nil {
			w.logger.Error("worker job panicked",
				zap.Int("worker", w.id),
				zap.String("owner", job.Owner),
				zap.String("panic", fmt.Sprint(r)))
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
		if job.done != nil {
			job.done <- err
		}
	}()
	if job.Fn != nil {
		job.Fn()
	}
}
