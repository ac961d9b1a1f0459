package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDispatcherBusy is returned when the intake queue is full.
var ErrDispatcherBusy = errors.New("dispatcher busy")

// ErrDispatcherStopped is returned by Schedule after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// DispatcherConfig sizes the worker pool and the intake queue.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

// Job is one unit of work. Jobs sharing a Key are handed out in submission order.
type Job struct {
	Key string
	Run func()

	epoch uint64
	stop  bool
}

// keyQueue tracks one key from Schedule until its jobs leave the dispatcher.
// pending also counts jobs still in the intake channel; jobs stamped with an
// older epoch were cancelled and are dropped when they surface.
type keyQueue struct {
	jobs     []Job
	enqueued bool
	pending  int
	epoch    uint64
}

// Dispatcher hands jobs to the pool round-robin across keys, so a key with a
// long backlog cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	log      *zap.Logger

	mu        sync.Mutex
	queues    map[string]*keyQueue
	ready     *list.List // keys with pending jobs, front is next
	positions map[string]*list.Element

	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatcher(cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	quit := make(chan struct{})
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, quit, log),
		jobQueue:  make(chan Job, cfg.QueueSize),
		log:       log,
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      quit,
		done:      make(chan struct{}),
	}

	// Warm up workers.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Schedule queues fn under key without blocking.
func (d *Dispatcher) Schedule(key string, fn func()) error {
	if fn == nil {
		return errors.New("job func required")
	}
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	d.mu.Lock()
	q := d.queueLocked(key)
	q.pending++
	job := Job{Key: key, Run: fn, epoch: q.epoch}
	d.mu.Unlock()

	select {
	case d.jobQueue <- job:
		return nil
	default:
		d.mu.Lock()
		d.releaseLocked(key, q)
		d.mu.Unlock()
		return ErrDispatcherBusy
	}
}

// Cancel drops the jobs of key that have not been handed to a worker yet,
// including those still waiting in the intake queue.
func (d *Dispatcher) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[key]
	if q == nil {
		return
	}
	q.epoch++
	q.pending -= len(q.jobs)
	q.jobs = nil
	if q.enqueued {
		q.enqueued = false
		d.ready.Remove(d.positions[key])
		delete(d.positions, key)
	}
	if q.pending <= 0 {
		delete(d.queues, key)
	}
}

// Stop stops accepting jobs and waits for running ones and all workers to exit.
// Jobs still queued are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.close()
		<-d.done
		d.pool.wait()
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		// dispatch one job of the key at the front of the ready list
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue: // idle, block for the next job
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil || q.epoch != job.epoch {
		// cancelled while in the intake queue
		if q != nil {
			d.releaseLocked(job.Key, q)
		}
		return
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job of the front key to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.releaseLocked(key, q)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		// pool closed
		return false
	}
	d.log.Debug("assign job", zap.String("key", key), zap.Int("worker", d.pool.workerID(workerChan)))
	select {
	case workerChan <- job:
		return true
	case <-d.quit:
		return false
	}
}

func (d *Dispatcher) queueLocked(key string) *keyQueue {
	q := d.queues[key]
	if q == nil {
		q = &keyQueue{}
		d.queues[key] = q
	}
	return q
}

// releaseLocked forgets key once none of its jobs are left in the dispatcher.
func (d *Dispatcher) releaseLocked(key string, q *keyQueue) {
	q.pending--
	if q.pending <= 0 && !q.enqueued && d.queues[key] == q {
		delete(d.queues, key)
	}
}
