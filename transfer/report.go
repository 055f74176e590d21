package transfer

import (
	"sort"
	"time"
)

// FileFailure describes one file that ended Failed.
type FileFailure struct {
	Path     string
	Attempts int
	Err      error
}

// Report is the per-file outcome of a job.
type Report struct {
	JobID       string
	PeerID      string
	RemoteRoot  string
	Destination string
	State       JobState

	Total     int
	Completed int
	Skipped   int
	Failed    int
	Pending   int

	Failures   []FileFailure
	WalkErrors []PathError

	// BytesDownloaded counts bytes received over the network, retries included.
	BytesDownloaded int64
	StartedAt       time.Time
	FinishedAt      time.Time
}

// FailedPaths lists the relative paths of failed files in lexical order.
func (r Report) FailedPaths() []string {
	paths := make([]string, 0, len(r.Failures))
	for _, failure := range r.Failures {
		paths = append(paths, failure.Path)
	}
	sort.Strings(paths)
	return paths
}

// Report summarizes the job. While the job runs, State is JobRunning.
func (j *Job) Report() Report {
	j.mu.RLock()
	defer j.mu.RUnlock()

	r := Report{
		JobID:           j.ID,
		PeerID:          j.PeerID,
		RemoteRoot:      j.RemoteRoot,
		Destination:     j.Destination,
		Total:           len(j.tasks),
		WalkErrors:      append([]PathError(nil), j.walkErrors...),
		BytesDownloaded: j.networkBytes,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.finishedAt,
	}
	for _, task := range j.tasks {
		switch task.Status {
		case TaskCompleted:
			r.Completed++
			if task.Skipped {
				r.Skipped++
			}
		case TaskFailed:
			r.Failed++
			r.Failures = append(r.Failures, FileFailure{
				Path:     task.RelativePath,
				Attempts: task.Attempt,
				Err:      task.LastError,
			})
		default:
			r.Pending++
		}
	}

	switch {
	case j.finishedAt.IsZero():
		r.State = JobRunning
	case j.cancelRequested:
		r.State = JobCancelled
	case r.Failed == 0 && len(r.WalkErrors) == 0:
		r.State = JobCompleted
	case r.Completed == 0:
		r.State = JobFailed
	default:
		r.State = JobPartial
	}
	return r
}
