package psychics

import (
	"go.uber.org/zap"
)

// scheduledTask represents a task scheduled for a future tick.
type scheduledTask struct {
	// due is the tick the task should run at
	due int64

	// seq breaks ties between tasks due on the same tick (registration order)
	seq uint64

	// period is the repeat interval in ticks, 0 for one-shot tasks
	period int64

	// fn is the callback
	fn func() error

	// cancelled indicates if the task has been cancelled
	cancelled bool

	// index is the heap index for efficient removal
	index int
}

// before reports whether a runs before b.
func (a *scheduledTask) before(b *scheduledTask) bool {
	if a.due != b.due {
		return a.due < b.due
	}
	return a.seq < b.seq
}

// TaskHandle allows cancelling a scheduled task.
type TaskHandle struct {
	task *scheduledTask
}

// Cancel cancels the task. A cancelled repeating task never runs again.
func (h *TaskHandle) Cancel() {
	if h != nil && h.task != nil {
		h.task.cancelled = true
	}
}

// Cancelled reports whether the task was cancelled.
func (h *TaskHandle) Cancelled() bool {
	return h == nil || h.task == nil || h.task.cancelled
}

// TickScheduler is a queue of deferred and periodic callbacks driven by a
// tick counter. Tasks run in due tick order, ties broken by registration
// order. It is owned by one Runtime and is not safe for concurrent use.
type TickScheduler struct {
	heap    []*scheduledTask
	seq     uint64
	log     *zap.Logger
	name    string
	current int64

	// generation is bumped by CancelAll so a drain in progress can tell
	// that the tasks it popped were cancelled too.
	generation uint64
}

// NewTickScheduler creates a scheduler whose clock starts at tick.
func NewTickScheduler(tick int64, log *zap.Logger) *TickScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TickScheduler{
		heap:    make([]*scheduledTask, 0, 16),
		log:     log,
		name:    "scheduler",
		current: tick,
	}
}

// Once runs fn once, delay ticks after the current tick. A delay below one
// runs it on the next drain.
func (s *TickScheduler) Once(delay int64, fn func() error) *TaskHandle {
	return s.push(s.current+max(delay, 0), 0, fn)
}

// Repeating runs fn delay ticks after the current tick and then every period
// ticks until the returned handle is cancelled.
func (s *TickScheduler) Repeating(delay, period int64, fn func() error) (*TaskHandle, error) {
	if period < 1 {
		return nil, ErrInvalidPeriod
	}
	return s.push(s.current+max(delay, 0), period, fn), nil
}

func (s *TickScheduler) push(due, period int64, fn func() error) *TaskHandle {
	if len(s.heap) > 100 && len(s.heap)%100 == 0 {
		s.compactHeap()
	}

	s.seq++
	task := &scheduledTask{due: due, seq: s.seq, period: period, fn: fn}
	task.index = len(s.heap)
	s.heap = append(s.heap, task)
	s.up(task.index)
	return &TaskHandle{task: task}
}

// Run advances the clock to now and runs every task due at or before it.
// Tasks scheduled while running are not run before the next call, even when
// already due. A task returning an error or panicking is logged and keeps its
// schedule.
func (s *TickScheduler) Run(now int64) {
	if now > s.current {
		s.current = now
	}

	// Tasks registered during this drain get a seq above the limit.
	limit := s.seq
	generation := s.generation
	var deferred []*scheduledTask
	cancelledCount := 0

	for len(s.heap) > 0 && s.heap[0].due <= now {
		task := s.pop()
		if task.cancelled {
			cancelledCount++
			continue
		}
		if task.seq > limit {
			deferred = append(deferred, task)
			continue
		}

		_ = runHook(s.log, HookTask, s.name, task.fn)

		if s.generation != generation {
			task.cancelled = true
			for _, d := range deferred {
				d.cancelled = true
				d.index = -1
			}
			return
		}
		if task.period > 0 && !task.cancelled {
			s.seq++
			task.due = now + task.period
			task.seq = s.seq
			task.index = len(s.heap)
			s.heap = append(s.heap, task)
			s.up(task.index)
		}
	}

	for _, task := range deferred {
		task.index = len(s.heap)
		s.heap = append(s.heap, task)
		s.up(task.index)
	}

	if cancelledCount > 50 && len(s.heap) > 0 {
		s.compactHeap()
	}
}

// CancelAll cancels and drops every pending task. When called from a running
// task, that task and the rest of the drain are cancelled as well.
func (s *TickScheduler) CancelAll() {
	s.generation++
	for _, task := range s.heap {
		task.cancelled = true
		task.index = -1
	}
	clear(s.heap)
	s.heap = s.heap[:0]
}

// Len returns the number of queued tasks, including cancelled ones not yet dropped.
func (s *TickScheduler) Len() int {
	return len(s.heap)
}

// Peek returns the due tick of the next task.
func (s *TickScheduler) Peek() (int64, bool) {
	if len(s.heap) == 0 {
		return 0, false
	}
	return s.heap[0].due, true
}

// compactHeap removes cancelled tasks from the heap and rebuilds the heap property.
func (s *TickScheduler) compactHeap() {
	write := 0
	for read := 0; read < len(s.heap); read++ {
		if !s.heap[read].cancelled {
			s.heap[write] = s.heap[read]
			s.heap[write].index = write
			write++
		}
	}

	for i := write; i < len(s.heap); i++ {
		s.heap[i] = nil
	}
	s.heap = s.heap[:write]

	for i := len(s.heap)/2 - 1; i >= 0; i-- {
		s.down(i, len(s.heap))
	}
}

// pop removes and returns the minimum task.
func (s *TickScheduler) pop() *scheduledTask {
	n := len(s.heap) - 1
	s.swap(0, n)
	s.down(0, n)
	task := s.heap[n]
	s.heap[n] = nil // Allow GC
	s.heap = s.heap[:n]
	task.index = -1
	return task
}

// up moves task at index up the heap.
func (s *TickScheduler) up(i int) {
	for {
		parent := (i - 1) / 2
		if parent == i || !s.heap[i].before(s.heap[parent]) {
			break
		}
		s.swap(i, parent)
		i = parent
	}
}

// down moves task at index down the heap.
func (s *TickScheduler) down(i, n int) {
	for {
		left := 2*i + 1
		if left >= n || left < 0 {
			break
		}
		j := left
		if right := left + 1; right < n && s.heap[right].before(s.heap[left]) {
			j = right
		}
		if !s.heap[j].before(s.heap[i]) {
			break
		}
		s.swap(i, j)
		i = j
	}
}

// swap swaps two tasks in the heap.
func (s *TickScheduler) swap(i, j int) {
	s.heap[i], s.heap[j] = s.heap[j], s.heap[i]
	s.heap[i].index = i
	s.heap[j].index = j
}
