package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/observability"
)

// State is the position of an operation in the admission life cycle.
type State int32

const (
	Queued State = iota
	Admitted
	Running
	Released
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Admitted:
		return "admitted"
	case Running:
		return "running"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SchedulerConfig holds configuration for a database scheduler.
type SchedulerConfig struct {
	// LockWaitTimeout bounds admission waits when the caller's context has no
	// deadline. Zero waits forever.
	LockWaitTimeout time.Duration

	// CoordinatorSlots is the number of admitted operations that may hold the
	// coordinator connection at once. Zero means unlimited.
	CoordinatorSlots int

	// Stats receives per-table wait times. Optional.
	Stats *observability.LockStats
}

type request[T comparable] struct {
	op       Lockable[T]
	spec     *Specification[T]
	coord    bool
	enqueued time.Time
	reply    chan *Ticket[T]

	// owned by the scheduler loop
	admitted bool
	ticket   *Ticket[T]
}

// Scheduler admits operations of one database once none of the locks they
// declared conflict with running operations. Conflicting requests are
// admitted in arrival order. A request may overtake earlier queued requests
// only when it conflicts with none of them, so writers are never starved by
// a stream of readers.
type Scheduler[T comparable] struct {
	name    string
	manager *Manager[T]
	config  SchedulerConfig

	requests chan *request[T]
	releases chan *Ticket[T]
	cancels  chan *request[T]

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	queued      atomic.Int64
	active      atomic.Int64
	coordActive int
}

// NewScheduler creates the scheduler of database name and starts its loop.
// The loop runs until Stop.
func NewScheduler[T comparable](name string, manager *Manager[T], config SchedulerConfig) *Scheduler[T] {
	if manager == nil {
		manager = NewManager[T]()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler[T]{
		name:     name,
		manager:  manager,
		config:   config,
		requests: make(chan *request[T]),
		releases: make(chan *Ticket[T]),
		cancels:  make(chan *request[T]),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Manager returns the lock manager the scheduler admits against.
func (s *Scheduler[T]) Manager() *Manager[T] {
	return s.manager
}

// Stop terminates the loop. Waiting callers fail; tickets already handed out
// stay valid and release directly against the manager.
func (s *Scheduler[T]) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Queued returns the number of operations waiting for admission.
func (s *Scheduler[T]) Queued() int {
	return int(s.queued.Load())
}

// Active returns the number of admitted operations not yet released.
func (s *Scheduler[T]) Active() int {
	return int(s.active.Load())
}

// Acquire blocks until op is admitted, ctx is done, or the scheduler stops.
// The returned ticket holds op's locks until Release.
func (s *Scheduler[T]) Acquire(ctx context.Context, op Lockable[T]) (*Ticket[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.NewLockError(xerrors.CodeLockTimeout, "lock admission not attempted", err)
	}
	spec := op.LockSpecs()
	if spec == nil {
		spec = NewSpecification[T]()
	}

	if s.config.LockWaitTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.LockWaitTimeout)
			defer cancel()
		}
	}

	req := &request[T]{
		op:       op,
		spec:     spec,
		coord:    op.NeedCoordinatorConnection() && s.config.CoordinatorSlots > 0,
		enqueued: time.Now(),
		reply:    make(chan *Ticket[T], 1),
	}

	select {
	case s.requests <- req:
	case <-s.done:
		return nil, s.closedError()
	case <-ctx.Done():
		return nil, s.timeoutError(ctx, spec, req.enqueued)
	}

	select {
	case t := <-req.reply:
		if t == nil {
			return nil, s.closedError()
		}
		return t, nil
	case <-ctx.Done():
		select {
		case s.cancels <- req:
		case <-s.done:
		}
		return nil, s.timeoutError(ctx, spec, req.enqueued)
	}
}

// Run acquires locks for op, runs fn and releases the locks.
func (s *Scheduler[T]) Run(ctx context.Context, op Lockable[T], fn func(context.Context) error) error {
	t, err := s.Acquire(ctx, op)
	if err != nil {
		return err
	}
	return t.Run(ctx, fn)
}

func (s *Scheduler[T]) closedError() error {
	return xerrors.NewLockError(xerrors.CodeSchedulerClose,
		fmt.Sprintf("scheduler of database %s is stopped", s.name), nil)
}

func (s *Scheduler[T]) timeoutError(ctx context.Context, spec *Specification[T], since time.Time) error {
	wait := time.Since(since)
	logutil.Logger(ctx).Warn("lock admission abandoned",
		zap.String("database", s.name),
		zap.Int("tables", len(spec.order)),
		zap.Duration("wait", wait),
		zap.Error(ctx.Err()))
	return xerrors.NewLockError(xerrors.CodeLockTimeout,
		fmt.Sprintf("waited %s for table locks in database %s", wait.Round(time.Millisecond), s.name), ctx.Err())
}

func (s *Scheduler[T]) run(ctx context.Context) {
	defer close(s.done)

	var queue []*request[T]
	for {
		select {
		case <-ctx.Done():
			for _, r := range queue {
				r.reply <- nil
			}
			s.queued.Store(0)
			s.publish()
			return
		case r := <-s.requests:
			queue = append(queue, r)
		case t := <-s.releases:
			s.releaseLocked(t)
		case r := <-s.cancels:
			queue = s.withdraw(queue, r)
		}
		queue = s.admit(queue)
		s.queued.Store(int64(len(queue)))
		s.publish()
	}
}

func (s *Scheduler[T]) publish() {
	observability.SchedulerQueueGauge.WithLabelValues(s.name).Set(float64(s.queued.Load()))
	observability.SchedulerRunningGauge.WithLabelValues(s.name).Set(float64(s.active.Load()))
}

func (s *Scheduler[T]) conflicts(a, b *request[T]) bool {
	return (a.coord && b.coord) || a.spec.ConflictsWith(b.spec)
}

func (s *Scheduler[T]) admit(queue []*request[T]) []*request[T] {
	var blocked []*request[T]
	for _, r := range queue {
		waiting := false
		for _, b := range blocked {
			if s.conflicts(r, b) {
				waiting = true
				break
			}
		}
		if waiting || (r.coord && s.coordActive >= s.config.CoordinatorSlots) || !s.manager.TryAcquire(r.spec) {
			blocked = append(blocked, r)
			continue
		}

		if r.coord {
			s.coordActive++
		}
		wait := time.Since(r.enqueued)
		r.admitted = true
		r.ticket = &Ticket[T]{
			sched: s,
			spec:  r.spec,
			coord: r.coord,
			cost:  r.op.Cost(),
			wait:  wait,
		}
		r.ticket.state.Store(int32(Admitted))
		s.active.Add(1)
		s.record(r.spec, wait)
		r.reply <- r.ticket
	}
	return blocked
}

func (s *Scheduler[T]) record(spec *Specification[T], wait time.Duration) {
	observability.AdmissionWaitHistogram.WithLabelValues(s.name).Observe(wait.Seconds())
	if s.config.Stats == nil || wait <= 0 {
		return
	}
	for _, t := range spec.order {
		s.config.Stats.RecordWait(fmt.Sprint(t), spec.modes[t].String(), wait)
	}
}

func (s *Scheduler[T]) withdraw(queue []*request[T], r *request[T]) []*request[T] {
	for i, q := range queue {
		if q == r {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	if r.admitted {
		// admitted after the caller gave up
		r.ticket.state.Store(int32(Released))
		s.releaseLocked(r.ticket)
	}
	return queue
}

func (s *Scheduler[T]) releaseLocked(t *Ticket[T]) {
	s.manager.Release(t.spec)
	if t.coord {
		s.coordActive--
	}
	s.active.Add(-1)
}

// Ticket is the right to run an admitted operation.
type Ticket[T comparable] struct {
	sched *Scheduler[T]
	spec  *Specification[T]
	coord bool
	cost  int64
	wait  time.Duration

	state atomic.Int32
	once  sync.Once
}

// State returns the current life cycle state.
func (t *Ticket[T]) State() State {
	return State(t.state.Load())
}

// Wait returns how long the operation was queued.
func (t *Ticket[T]) Wait() time.Duration {
	return t.wait
}

// Cost returns the operation's declared cost.
func (t *Ticket[T]) Cost() int64 {
	return t.cost
}

// Run marks the operation running, calls fn and releases the locks.
func (t *Ticket[T]) Run(ctx context.Context, fn func(context.Context) error) error {
	defer t.Release()
	t.state.CompareAndSwap(int32(Admitted), int32(Running))
	return fn(ctx)
}

// Release gives the locks back. Calling it more than once is a no-op.
func (t *Ticket[T]) Release() {
	t.once.Do(func() {
		t.state.Store(int32(Released))
		select {
		case t.sched.releases <- t:
		case <-t.sched.done:
			t.sched.manager.Release(t.spec)
			t.sched.active.Add(-1)
		}
	})
}
