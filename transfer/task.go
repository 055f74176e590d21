package transfer

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// TaskStatus is the lifecycle state of one FileTask.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskDownloading TaskStatus = "downloading"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:     {TaskDownloading, TaskCompleted, TaskFailed},
	TaskDownloading: {TaskCompleted, TaskPending, TaskFailed},
}

// FileTask is the unit of work for downloading one remote file.
//
// Tasks are owned by their Job and only mutated under the job lock. Values handed
// out by Job.Tasks are copies.
type FileTask struct {
	RelativePath     string
	ExpectedSize     int64
	BytesTransferred int64
	Attempt          int
	Status           TaskStatus
	// Skipped is set when the local copy already matched and nothing was fetched.
	Skipped   bool
	LastError error

	// remotePath and localPath are the absolute source and destination of the file.
	remotePath string
	localPath  string

	peak  int64
	retry *backoff.ExponentialBackOff
}

func newFileTask(relativePath string, expectedSize int64) *FileTask {
	return &FileTask{
		RelativePath: relativePath,
		ExpectedSize: expectedSize,
		Status:       TaskPending,
	}
}

func (t *FileTask) transition(to TaskStatus) error {
	for _, allowed := range taskTransitions[t.Status] {
		if allowed == to {
			t.Status = to
			return nil
		}
	}
	return fmt.Errorf("invalid task transition %s -> %s for %q", t.Status, to, t.RelativePath)
}

func (t *FileTask) addBytes(n int64) {
	t.BytesTransferred += n
	if t.BytesTransferred > t.peak {
		t.peak = t.BytesTransferred
	}
}

// progressBytes is the high-water byte count, so a retry never moves progress backwards.
func (t *FileTask) progressBytes() int64 {
	if t.peak > t.BytesTransferred {
		return t.peak
	}
	return t.BytesTransferred
}

// nextRetryDelay returns baseDelay * 2^(attempt-1) capped at maxDelay. It must be
// called exactly once per failed attempt.
func (t *FileTask) nextRetryDelay(baseDelay, maxDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		return 0
	}
	if t.retry == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = baseDelay
		b.RandomizationFactor = 0
		b.Multiplier = 2
		b.MaxInterval = maxDelay
		b.MaxElapsedTime = 0
		b.Reset()
		t.retry = b
	}
	delay := t.retry.NextBackOff()
	if delay < 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}
	return delay
}
