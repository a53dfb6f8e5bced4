package worker

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type ownerQueue struct {
	jobs     []Job
	enqueued bool
}

// DispatcherConfig sizes the pool and its intake queue.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
	// QueueWait bounds how long Submit waits for room in the intake queue.
	QueueWait time.Duration
}

// Dispatcher runs jobs on a bounded worker pool, alternating between owners so
// one owner's burst cannot starve the others.
type Dispatcher struct {
	pool      *jobChannelPool
	JobQueue  chan Job // intake for outer jobs
	queueWait time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	queues  map[string]*ownerQueue // pending jobs per owner
	ready   *list.List             // round-robin order of owners with pending jobs
	pending int

	quit     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = 10 * time.Second
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, logger)

	d := &Dispatcher{
		queues:    make(map[string]*ownerQueue),
		ready:     list.New(),
		pool:      pool,
		JobQueue:  make(chan Job, cfg.QueueSize),
		queueWait: cfg.QueueWait,
		logger:    logger,
		quit:      make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues fn under owner and waits for it to finish. It returns
// ErrDispatcherBusy if the intake queue stays full for longer than QueueWait
// or the dispatcher stops before fn has run, and ErrJobPanicked if fn panicked.
func (d *Dispatcher) Submit(ctx context.Context, owner string, fn func()) error {
	job := Job{Type: Run, Owner: owner, Fn: fn, done: make(chan error, 1)}

	timer := time.NewTimer(d.queueWait)
	defer timer.Stop()
	select {
	case d.JobQueue <- job:
	case <-timer.C:
		return ErrDispatcherBusy
	case <-d.quit:
		return ErrDispatcherBusy
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.done:
		return err
	case <-d.quit:
		// a job already on a worker may still be finishing
		select {
		case err := <-job.done:
			return err
		default:
			return ErrDispatcherBusy
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.hasPending() {
			select {
			case job := <-d.JobQueue: // nothing pending, block for intake
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
		}
		// wait for a free worker first, then choose among everything that
		// arrived meanwhile so the pick is fair
		workerChan := d.pool.acquire()
		d.drainIntake()
		job, ok := d.nextJob()
		if !ok {
			d.pool.Release(workerChan)
			continue
		}
		d.logger.Debug("dispatch job",
			zap.String("owner", job.Owner),
			zap.Int("worker", d.pool.workerID(workerChan)))
		workerChan <- job

		select {
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) hasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending > 0
}

func (d *Dispatcher) drainIntake() {
	for {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Owner]
	if q == nil {
		q = &ownerQueue{}
		d.queues[job.Owner] = q
	}
	q.jobs = append(q.jobs, job)
	d.pending++
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.ready.PushBack(job.Owner)
}

// nextJob pops the front owner's oldest job and rotates that owner to the back
func (d *Dispatcher) nextJob() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	owner := elem.Value.(string)
	q := d.queues[owner]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	d.pending--
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.queues, owner)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

// Stats is a point-in-time view of the pool for health reporting.
type Stats struct {
	Running int `json:"running"`
	Idle    int `json:"idle"`
	Pending int `json:"pending"`
}

func (d *Dispatcher) Stats() Stats {
	running, idle := d.pool.stats()
	d.mu.Lock()
	pending := d.pending + len(d.JobQueue)
	d.mu.Unlock()
	return Stats{Running: running, Idle: idle, Pending: pending}
}

// Stop ends dispatching and retires idle workers. Jobs already running finish;
// queued jobs are dropped and their Submit calls return ErrDispatcherBusy.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.close()

		d.mu.Lock()
		d.queues = make(map[string]*ownerQueue)
		d.ready.Init()
		d.pending = 0
		d.mu.Unlock()
	drain:
		for {
			select {
			case <-d.JobQueue:
			default:
				break drain
			}
		}
	})
}
