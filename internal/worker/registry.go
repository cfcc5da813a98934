package worker

import (
	"sort"
	"sync"

	"github.com/kiranshivaraju/raven/pkg/models"
)

// Registry is the process-local view of submitted jobs. The pool is the
// only writer of status fields; every reader gets a copy.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job
	tasks  map[string]string
	active map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		jobs:   make(map[string]*models.Job),
		tasks:  make(map[string]string),
		active: make(map[string]struct{}),
	}
}

// Track records job if it is not already known.
func (r *Registry) Track(job *models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.JobID]; !ok {
		r.jobs[job.JobID] = job.Clone()
	}
}

func (r *Registry) Get(jobID string) (*models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Snapshot returns copies of every tracked job ordered by id.
func (r *Registry) Snapshot() []*models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].JobID < out[b].JobID })
	return out
}

// Active returns the ids of jobs currently executing.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsActive(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[jobID]
	return ok
}

// Tasks returns the current progress step of each running job.
func (r *Registry) Tasks() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.tasks))
	for k, v := range r.tasks {
		out[k] = v
	}
	return out
}

// Prune drops jobs whose id is not in keep, unless they are running.
// It returns the removed ids.
func (r *Registry) Prune(keep map[string]bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id := range r.jobs {
		if keep[id] {
			continue
		}
		if _, running := r.active[id]; running {
			continue
		}
		delete(r.jobs, id)
		delete(r.tasks, id)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed
}

func (r *Registry) set(job *models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = job.Clone()
}

func (r *Registry) setActive(jobID string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if running {
		r.active[jobID] = struct{}{}
		return
	}
	delete(r.active, jobID)
	delete(r.tasks, jobID)
}

func (r *Registry) setTask(jobID, task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[jobID] = task
}
