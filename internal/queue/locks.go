package queue

import "sync"

// StrategyLocks serializes job execution per strategy. Trade and rollover
// pools run independently, so without this a trade could read a stale
// instrument reference while a rollover is mid-flight updating it. The lock
// is held for the whole handler execution.
type StrategyLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewStrategyLocks creates an empty lock table.
func NewStrategyLocks() *StrategyLocks {
	return &StrategyLocks{locks: make(map[uint]*sync.Mutex)}
}

// Lock acquires the mutex for the given strategy, creating it on first use.
// Entries are never removed: the set of strategies is small and bounded.
func (s *StrategyLocks) Lock(strategyID uint) {
	s.mu.Lock()
	m, ok := s.locks[strategyID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[strategyID] = m
	}
	s.mu.Unlock()
	m.Lock()
}

// Unlock releases the mutex for the given strategy.
func (s *StrategyLocks) Unlock(strategyID uint) {
	s.mu.Lock()
	m := s.locks[strategyID]
	s.mu.Unlock()
	if m != nil {
		m.Unlock()
	}
}
