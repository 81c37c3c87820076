package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobSpec declares one periodic pass managed by the JobManager.
type JobSpec struct {
	Name     string
	Interval time.Duration
	Run      Runner
}

// JobManager owns the scheduled passes and lets operators toggle each one
// independently.
type JobManager struct {
	mu      sync.Mutex
	specs   map[string]JobSpec
	current map[string]*Job
	logger  zerolog.Logger
	wg      *sync.WaitGroup
}

func NewJobManager(specs []JobSpec, logger zerolog.Logger, wg *sync.WaitGroup) *JobManager {
	byName := make(map[string]JobSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}
	return &JobManager{
		specs:   byName,
		current: make(map[string]*Job),
		logger:  logger,
		wg:      wg,
	}
}

func (m *JobManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.specs))
	for name := range m.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *JobManager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	spec, ok := m.specs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	if _, running := m.current[name]; running {
		return fmt.Errorf("job %q is already running", name)
	}

	m.wg.Add(1)
	job := NewJob(spec.Name, spec.Interval, spec.Run, m.logger)
	job.Start(ctx, m.wg)
	m.current[name] = job
	return nil
}

func (m *JobManager) StartAll(ctx context.Context) error {
	for _, name := range m.Names() {
		if err := m.Start(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *JobManager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.current[name]
	if !ok {
		return fmt.Errorf("job %q is not running", name)
	}
	job.Stop()
	delete(m.current, name)
	return nil
}

func (m *JobManager) IsRunning(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.current[name]
	return ok
}
