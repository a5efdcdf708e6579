package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "high":
		return PriorityHigh, true
	case "medium", "":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	}
	return PriorityMedium, false
}

type Status struct {
	QueueLength   int            `json:"queue_length"`
	InFlight      int            `json:"in_flight"`
	MaxConcurrent int            `json:"max_concurrent"`
	ByPriority    map[string]int `json:"by_priority"`
}

type call struct {
	id         string
	priority   Priority
	enqueuedAt time.Time
	seq        uint64
	ctx        context.Context
	op         func(context.Context) error
	done       chan error
}

// Scheduler admits queued calls into execution in (priority desc, enqueue
// order asc) order while holding in-flight concurrency at or under the
// configured cap. Completion order is whatever finishes first.
type Scheduler struct {
	logger        *slog.Logger
	maxConcurrent int

	mu         sync.Mutex
	queue      []*call
	processing map[string]struct{}
	inFlight   int
	seq        uint64
	now        func() time.Time
}

func New(maxConcurrent int, logger *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		logger:        logger,
		maxConcurrent: maxConcurrent,
		processing:    make(map[string]struct{}),
		now:           time.Now,
	}
}

// Submit queues op and blocks until it has run to completion, returning
// the operation's own error exactly once. There is no cancellation: once
// queued, the call executes even if the submitter's context expires first.
func (s *Scheduler) Submit(ctx context.Context, id string, priority Priority, op func(context.Context) error) error {
	c := &call{
		id:       id,
		priority: priority,
		ctx:      ctx,
		op:       op,
		done:     make(chan error, 1),
	}

	s.mu.Lock()
	s.seq++
	c.seq = s.seq
	c.enqueuedAt = s.now()
	s.insert(c)
	s.dispatch()
	s.mu.Unlock()

	return <-c.done
}

// insert keeps the queue ordered by priority desc then arrival. Equal
// priorities never reorder. Caller holds mu.
func (s *Scheduler) insert(c *call) {
	i := len(s.queue)
	for j, queued := range s.queue {
		if queued.priority < c.priority {
			i = j
			break
		}
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = c
}

// dispatch starts eligible calls while capacity remains. A call whose id
// is already executing stays queued until the live one finishes, so a
// single id is never in flight twice. Caller holds mu.
func (s *Scheduler) dispatch() {
	for s.inFlight < s.maxConcurrent {
		idx := -1
		for i, c := range s.queue {
			if _, busy := s.processing[c.id]; !busy {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		c := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.processing[c.id] = struct{}{}
		s.inFlight++
		go s.run(c)
	}
}

func (s *Scheduler) run(c *call) {
	start := time.Now()
	err := c.op(c.ctx)

	s.mu.Lock()
	delete(s.processing, c.id)
	s.inFlight--
	s.dispatch()
	s.mu.Unlock()

	if err != nil && s.logger != nil {
		s.logger.Debug("scheduled call failed",
			"id", c.id,
			"priority", c.priority.String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	}
	c.done <- err
}

// Run re-drains the queue on a short tick. Dispatch on submit/completion
// already keeps the queue moving; the tick only covers calls parked
// behind a duplicate id.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.Lock()
			s.dispatch()
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	by := map[string]int{"high": 0, "medium": 0, "low": 0}
	for _, c := range s.queue {
		by[c.priority.String()]++
	}
	return Status{
		QueueLength:   len(s.queue),
		InFlight:      s.inFlight,
		MaxConcurrent: s.maxConcurrent,
		ByPriority:    by,
	}
}

// QueueDepth reports queued plus in-flight calls, the live load figure
// the alerting thresholds compare against.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + s.inFlight
}
