// Package sched runs the daemon's periodic maintenance jobs on cron
// schedules.
package sched

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// stopWait bounds how long Stop waits for running jobs.
const stopWait = 5 * time.Second

// Service wraps a cron scheduler with named jobs. Schedules use
// standard five-field cron expressions or @every descriptors.
type Service struct {
	mu       sync.Mutex
	cron     *cron.Cron
	entryMap map[string]cron.EntryID // job name -> cron entry ID
	started  bool
}

func NewService() *Service {
	return &Service{
		cron:     cron.New(),
		entryMap: make(map[string]cron.EntryID),
	}
}

// Add registers fn under name. Re-adding a name replaces its schedule.
// Jobs added after Start are scheduled immediately.
func (s *Service) Add(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() {
		log.Printf("[sched] running job %s", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, spec, err)
	}
	if old, ok := s.entryMap[name]; ok {
		s.cron.Remove(old)
	}
	s.entryMap[name] = id
	return nil
}

// Remove drops the named job, reporting whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entryMap[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entryMap, name)
	return true
}

// Jobs returns the registered job names, sorted.
func (s *Service) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entryMap))
	for name := range s.entryMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	log.Printf("[sched] started with %d jobs", len(s.entryMap))
}

// Stop halts scheduling and waits for running jobs, bounded by
// stopWait.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopWait):
		log.Printf("[sched] stop timeout waiting for running jobs")
	}
	log.Printf("[sched] stopped")
}
