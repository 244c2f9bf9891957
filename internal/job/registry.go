package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownJob is returned when resolving a job name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Registry holds registered jobs keyed by name.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]Job),
	}
}

// NewDefaultRegistry returns a registry holding the built-in jobs.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SleepJob{})
	r.Register(FailJob{})
	r.Register(EchoJob{})
	return r
}

// Register adds a job under its Info().Name, replacing any job already
// registered with that name.
func (r *Registry) Register(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.Info().Name] = j
}

// Resolve returns the job registered under name.
func (r *Registry) Resolve(name string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return j, nil
}

// List returns information about all registered jobs, sorted by name
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.jobs))
	for _, j := range r.jobs {
		infos = append(infos, j.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
