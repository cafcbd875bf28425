package psychics

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Driver owns the monotonic tick counter and calls OnTick on every live
// runtime once per tick. Runtimes share no mutable state, so a tick is fanned
// out across a worker pool with one job per runtime.
type Driver struct {
	manager *Manager

	// Worker pool
	workers    int
	workerPool chan func()
	workerWG   sync.WaitGroup

	// Execution state
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Tick tracking
	tickRate   time.Duration
	tickNumber atomic.Int64
}

// newDriver creates a new driver.
func newDriver(m *Manager, tickRate time.Duration, workers int) *Driver {
	if workers < 1 {
		workers = 1
	}
	if tickRate <= 0 {
		tickRate = 50 * time.Millisecond // 20 TPS
	}
	return &Driver{
		manager:    m,
		workers:    workers,
		workerPool: make(chan func(), workers*4),
		tickRate:   tickRate,
	}
}

// TickNumber returns the number of ticks driven so far.
func (d *Driver) TickNumber() int64 {
	return d.tickNumber.Load()
}

// Start begins the driver's tick loop.
func (d *Driver) Start() {
	if d.running.Swap(true) {
		return // Already running
	}

	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.workerPool = make(chan func(), d.workers*4)

	// Start worker pool
	for i := 0; i < d.workers; i++ {
		d.workerWG.Add(1)
		go d.worker()
	}

	// Start tick loop
	go d.tickLoop()

	d.manager.log.Info("psychics: driver started",
		zap.Duration("tick_rate", d.tickRate), zap.Int("workers", d.workers))
}

// Stop gracefully shuts down the driver. A tick in progress completes.
func (d *Driver) Stop() {
	if !d.running.Swap(false) {
		return // Not running
	}

	close(d.stopCh)
	<-d.doneCh

	close(d.workerPool)
	d.workerWG.Wait()
}

// worker is a pool worker that executes jobs.
func (d *Driver) worker() {
	defer d.workerWG.Done()
	for fn := range d.workerPool {
		fn()
	}
}

// tickLoop is the main driver loop.
func (d *Driver) tickLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick executes one driver tick.
func (d *Driver) tick() {
	m := d.manager
	n := d.tickNumber.Add(1)

	m.tickMu.RLock()
	defer m.tickMu.RUnlock()

	m.tick.Store(n)

	var wg sync.WaitGroup
	for _, rt := range m.Runtimes() {
		wg.Add(1)
		job := func() {
			defer wg.Done()
			tickRuntime(rt, n)
		}

		select {
		case d.workerPool <- job:
		default:
			// Worker pool full, run inline
			job()
		}
	}
	wg.Wait()
}
