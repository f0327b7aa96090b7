package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/charlesng35/teamshot/pkg/metrics"
)

// JobRun summarises the history of one background job.
type JobRun struct {
	Job                 string        `json:"job"`
	TotalRuns           uint64        `json:"total_runs"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
}

// JobTracker records maintenance job outcomes for the maintenance health probe and Prometheus.
type JobTracker struct {
	mu   sync.Mutex
	jobs map[string]*JobRun
	now  func() time.Time
}

// NewJobTracker constructs an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*JobRun), now: time.Now}
}

// RecordRun stores the outcome of a single job run.
func (t *JobTracker) RecordRun(job string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()
	metrics.MaintenanceDuration.WithLabelValues(job).Observe(duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.jobs[job]
	if !ok {
		run = &JobRun{Job: job}
		t.jobs[job] = run
	}
	run.TotalRuns++
	run.LastRunAt = t.now()
	run.LastDuration = duration
	if err != nil {
		run.ConsecutiveFailures++
		run.LastError = err.Error()
		return
	}
	run.ConsecutiveFailures = 0
	run.LastError = ""
}

// Snapshot returns a copy of every recorded job, ordered by name.
func (t *JobTracker) Snapshot() []JobRun {
	t.mu.Lock()
	defer t.mu.Unlock()

	runs := make([]JobRun, 0, len(t.jobs))
	for _, run := range t.jobs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Job < runs[j].Job })
	return runs
}
