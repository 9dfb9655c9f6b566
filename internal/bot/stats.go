package bot

import "sync"

// runStats accumulates task counters for the current run
type runStats struct {
	mu        sync.Mutex
	completed int
	failed    int
}

func (s *runStats) addCompleted() {
	s.mu.Lock()
	s.completed++
	s.mu.Unlock()
}

func (s *runStats) addFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *runStats) reset() {
	s.mu.Lock()
	s.completed = 0
	s.failed = 0
	s.mu.Unlock()
}

func (s *runStats) snapshot() (completed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.failed
}
