package engine

import (
	"sync"
	"time"
)

// Statistics tracks operational counters of the engine.
// All methods are thread-safe and can be called concurrently.
type Statistics struct {
	mu               sync.RWMutex
	cyclesRun        int64
	servicesChecked  int64
	sectionErrors    int64
	discoveryErrors  int64
	checkErrors      int64
	exportsSucceeded int64
	exportsFailed    int64
	lastCycle        time.Time
	startTime        time.Time
}

// NewStatistics creates a new Statistics instance with current timestamp.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// RecordCycle records a completed cycle.
func (s *Statistics) RecordCycle(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cyclesRun++
	s.lastCycle = at
}

// IncrementServicesChecked increments the evaluated services counter.
func (s *Statistics) IncrementServicesChecked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servicesChecked++
}

// IncrementSectionErrors increments the section parse failure counter.
func (s *Statistics) IncrementSectionErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sectionErrors++
}

// IncrementDiscoveryErrors increments the discovery failure counter.
func (s *Statistics) IncrementDiscoveryErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discoveryErrors++
}

// IncrementCheckErrors increments the counter of checks that failed or crashed.
func (s *Statistics) IncrementCheckErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkErrors++
}

// IncrementExportsSucceeded increments the successful exports counter.
func (s *Statistics) IncrementExportsSucceeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportsSucceeded++
}

// IncrementExportsFailed increments the failed exports counter.
func (s *Statistics) IncrementExportsFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportsFailed++
}

// GetCyclesRun returns the number of completed cycles.
func (s *Statistics) GetCyclesRun() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cyclesRun
}

// GetServicesChecked returns the number of evaluated services.
func (s *Statistics) GetServicesChecked() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servicesChecked
}

// GetSectionErrors returns the number of section parse failures.
func (s *Statistics) GetSectionErrors() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sectionErrors
}

// GetDiscoveryErrors returns the number of discovery failures.
func (s *Statistics) GetDiscoveryErrors() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discoveryErrors
}

// GetCheckErrors returns the number of checks that failed or crashed.
func (s *Statistics) GetCheckErrors() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkErrors
}

// GetExportsSucceeded returns the number of successful export operations.
func (s *Statistics) GetExportsSucceeded() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportsSucceeded
}

// GetExportsFailed returns the number of failed export operations.
func (s *Statistics) GetExportsFailed() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportsFailed
}

// GetLastCycle returns when the last cycle completed, or the zero time.
func (s *Statistics) GetLastCycle() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCycle
}

// GetUptime returns how long statistics have been tracked.
func (s *Statistics) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// GetExportSuccessRate returns the export success rate as a percentage (0-100).
// Returns 0 if no exports have been attempted.
func (s *Statistics) GetExportSuccessRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.exportsSucceeded + s.exportsFailed
	if total == 0 {
		return 0.0
	}
	return float64(s.exportsSucceeded) / float64(total) * 100.0
}

// Summary returns all counters keyed by name.
func (s *Statistics) Summary() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"uptime":            time.Since(s.startTime).String(),
		"cycles_run":        s.cyclesRun,
		"services_checked":  s.servicesChecked,
		"section_errors":    s.sectionErrors,
		"discovery_errors":  s.discoveryErrors,
		"check_errors":      s.checkErrors,
		"exports_succeeded": s.exportsSucceeded,
		"exports_failed":    s.exportsFailed,
	}
}
