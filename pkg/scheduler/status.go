package scheduler

import (
	"time"
)

// Snapshot is an immutable view of the pipeline's state at one instant.
type Snapshot struct {
	GeneratedAt      time.Time
	MainQueueDepth   int
	ActiveWorkers    int
	DelayQueueDepths []int
	TicketsAvailable float64
	LiveEntries      int
	DispatcherAlive  bool
	DrainersAlive    []bool
}

// Status returns a snapshot of the pipeline. A cached snapshot is reused
// while its age is at most cache; pass a negative cache to use the
// configured default, zero to always regenerate.
func (s *Service[I, O]) Status(cache time.Duration) Snapshot {
	if cache < 0 {
		cache = s.cfg.MainQueueCacheTime
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.haveStatus && cache > 0 && time.Since(s.status.GeneratedAt) <= cache {
		return s.status
	}

	snap := Snapshot{
		GeneratedAt:      time.Now(),
		MainQueueDepth:   len(s.mainQueue),
		ActiveWorkers:    s.exec.activeWorkers(),
		DelayQueueDepths: make([]int, len(s.delayQueues)),
		TicketsAvailable: s.tickets.available(),
		LiveEntries:      int(s.live.Load()),
		DispatcherAlive:  s.dispatcherAlive.Load(),
		DrainersAlive:    make([]bool, len(s.delayQueues)),
	}
	for i, q := range s.delayQueues {
		snap.DelayQueueDepths[i] = q.depth()
		snap.DrainersAlive[i] = q.alive.Load()
	}

	s.status = snap
	s.haveStatus = true
	return snap
}
