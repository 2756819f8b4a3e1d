package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EndReason says which timer closed the question.
type EndReason string

const (
	ReasonTimeout     = EndReason("timeout")
	ReasonAllAnswered = EndReason("all-answered")
	ReasonCancelled   = EndReason("cancelled")
)

type schedule struct {
	startedAt time.Time
	done      chan struct{}
	once      sync.Once
}

// Scheduler runs one cancellable dual-timer per room: a hard deadline and a
// lighter poll that can end the question early. Whichever fires first wins,
// and the end callback runs exactly once. The hard deadline fires even if
// the poll callback panics.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[string]*schedule
	log       *zap.Logger
	closed    bool
}

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{
		schedules: make(map[string]*schedule),
		log:       log,
	}
}

// Schedule arms the timers for a room, replacing any schedule already
// armed. check is polled every pollInterval; returning true ends the
// question early. end receives the reason and runs at most once.
func (s *Scheduler) Schedule(roomID string, timeout, pollInterval time.Duration, check func() bool, end func(EndReason)) {
	s.Cancel(roomID)

	sc := &schedule{
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.schedules[roomID] = sc
	s.mu.Unlock()

	go s.run(roomID, sc, timeout, pollInterval, check, end)
}

func (s *Scheduler) run(roomID string, sc *schedule, timeout, pollInterval time.Duration, check func() bool, end func(EndReason)) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	fire := func(reason EndReason) {
		sc.once.Do(func() {
			s.remove(roomID, sc)
			end(reason)
		})
	}

	for {
		select {
		case <-sc.done:
			return
		case <-deadline.C:
			fire(ReasonTimeout)
			return
		case <-poll.C:
			if s.safeCheck(roomID, check) {
				fire(ReasonAllAnswered)
				return
			}
		}
	}
}

// safeCheck keeps a panicking poll callback from killing the goroutine, so
// the hard deadline still fires.
func (s *Scheduler) safeCheck(roomID string, check func() bool) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("answer-check callback panicked",
				zap.String("room", roomID),
				zap.Any("panic", r))
			result = false
		}
	}()
	return check()
}

// Cancel stops both timers for a room. Idempotent: cancelling a room with
// nothing scheduled is a no-op.
func (s *Scheduler) Cancel(roomID string) {
	s.mu.Lock()
	sc, ok := s.schedules[roomID]
	if ok {
		delete(s.schedules, roomID)
	}
	s.mu.Unlock()

	if ok {
		sc.once.Do(func() {})
		close(sc.done)
	}
}

// Active reports whether a schedule is armed for the room.
func (s *Scheduler) Active(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.schedules[roomID]
	return ok
}

func (s *Scheduler) remove(roomID string, sc *schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.schedules[roomID]; ok && cur == sc {
		delete(s.schedules, roomID)
	}
}

// Shutdown cancels every outstanding schedule so no callback fires against
// a torn-down gateway.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	pending := make([]*schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		pending = append(pending, sc)
	}
	s.schedules = make(map[string]*schedule)
	s.closed = true
	s.mu.Unlock()

	for _, sc := range pending {
		sc.once.Do(func() {})
		close(sc.done)
	}
}
