package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/teamshot/internal/monitoring"
)

const defaultMaintenanceMaxAge = 26 * time.Hour

// Maintenance reports down while any job keeps failing and degraded once a job has not run
// within maxAge. Jobs that have never run are not held against the service.
func Maintenance(tracker *monitoring.JobTracker, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		if tracker == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance disabled"}
		}

		now := time.Now()
		status := monitoring.StatusUp
		var problems []string
		for _, run := range tracker.Snapshot() {
			if run.ConsecutiveFailures > 0 {
				status = monitoring.StatusDown
				problems = append(problems, run.Job+": "+run.LastError)
				continue
			}
			if now.Sub(run.LastRunAt) > maxAge && status != monitoring.StatusDown {
				status = monitoring.StatusDegraded
				problems = append(problems, run.Job+": last run "+run.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
