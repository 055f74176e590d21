package transfer

import (
	"time"
)

// DefaultSpeedEpsilon is the bytes/second rate below which no ETA is reported.
const DefaultSpeedEpsilon = 1.0

// ProgressSnapshot is a point-in-time view of a job's progress.
type ProgressSnapshot struct {
	TotalBytesExpected    int64
	TotalBytesTransferred int64
	// Speed is in bytes per second over the aggregator window.
	Speed        float64
	ETA          time.Duration
	ETAAvailable bool
	Percent      float64

	Files       int
	Pending     int
	Downloading int
	Completed   int
	Failed      int
	// WalkComplete is false while more files may still be discovered.
	WalkComplete bool
	Done         bool
}

// ProgressAggregator derives snapshots from a job's task counters.
type ProgressAggregator struct {
	Window  time.Duration
	Epsilon float64
	Now     func() time.Time
}

// Snapshot reads the job under its read lock and never modifies it.
func (a ProgressAggregator) Snapshot(j *Job) ProgressSnapshot {
	window := a.Window
	if window <= 0 {
		window = DefaultSpeedWindow
	}
	epsilon := a.Epsilon
	if epsilon <= 0 {
		epsilon = DefaultSpeedEpsilon
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var s ProgressSnapshot
	s.Files = len(j.tasks)
	s.WalkComplete = j.walkDone
	s.Done = !j.finishedAt.IsZero()
	for _, task := range j.tasks {
		s.TotalBytesExpected += task.ExpectedSize
		s.TotalBytesTransferred += task.progressBytes()
		switch task.Status {
		case TaskPending:
			s.Pending++
		case TaskDownloading:
			s.Downloading++
		case TaskCompleted:
			s.Completed++
		case TaskFailed:
			s.Failed++
		}
	}

	var recent int64
	cutoff := now.Add(-window)
	for _, sample := range j.samples {
		if !sample.at.Before(cutoff) {
			recent += sample.n
		}
	}
	span := window
	if elapsed := now.Sub(j.StartedAt); elapsed > 0 && elapsed < span {
		span = elapsed
	}
	if recent > 0 && span > 0 {
		s.Speed = float64(recent) / span.Seconds()
	}

	if s.TotalBytesExpected > 0 {
		s.Percent = float64(s.TotalBytesTransferred) / float64(s.TotalBytesExpected) * 100
	} else if s.Done {
		s.Percent = 100
	}

	remaining := s.TotalBytesExpected - s.TotalBytesTransferred
	switch {
	case remaining <= 0:
		s.ETAAvailable = true
	case s.Speed >= epsilon:
		s.ETA = time.Duration(float64(remaining) / s.Speed * float64(time.Second))
		s.ETAAvailable = true
	}
	return s
}
