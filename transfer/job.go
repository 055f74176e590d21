package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"lanpull/models"
)

// JobState summarizes how a job ended.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobPartial   JobState = "partial"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Job is one folder download. All exported fields are fixed at submission.
type Job struct {
	ID          string
	PeerID      string
	RemoteRoot  string
	LocalRoot   string
	Destination string
	Options     Options
	StartedAt   time.Time

	sched     *Scheduler
	peer      models.Peer
	log       *slog.Logger
	cancelRun context.CancelFunc
	stopWatch func() bool

	mu              sync.RWMutex
	tasks           []*FileTask
	ready           []*FileTask
	delayed         int
	downloading     int
	walkDone        bool
	confirmed       bool
	cancelRequested bool
	walkErrors      []PathError
	timers          map[*FileTask]*time.Timer
	samples         []byteSample
	networkBytes    int64
	finishedAt      time.Time
	changed         chan struct{}
	done            chan struct{}
}

type byteSample struct {
	at time.Time
	n  int64
}

// Done is closed once every task is Completed or Failed, or the job was cancelled
// and its workers stopped.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is done or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cooperative cancellation. It is safe to call more than once.
func (j *Job) Cancel() {
	j.mu.Lock()
	if !j.cancelRequested && j.finishedAt.IsZero() {
		j.cancelRequested = true
		for task, timer := range j.timers {
			timer.Stop()
			delete(j.timers, task)
		}
		j.delayed = 0
		j.ready = nil
		j.signalLocked()
		j.log.Info("transfer job cancel requested")
	}
	j.mu.Unlock()
	j.cancelRun()
}

// Tasks returns copies of the job's tasks in discovery order.
func (j *Job) Tasks() []FileTask {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]FileTask, 0, len(j.tasks))
	for _, task := range j.tasks {
		c := *task
		c.retry = nil
		out = append(out, c)
	}
	return out
}

// Progress returns a snapshot using the job's speed window.
func (j *Job) Progress() ProgressSnapshot {
	agg := ProgressAggregator{Window: j.Options.SpeedWindow, Now: j.sched.now}
	return agg.Snapshot(j)
}

func (j *Job) signalLocked() {
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *Job) cancelled() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

func (j *Job) localPath(rel string) string {
	if rel == "" {
		return j.Destination
	}
	return filepath.Join(j.Destination, filepath.FromSlash(rel))
}

// endpoint prefers the registry's current address so a peer that moved is followed.
func (j *Job) endpoint() models.Peer {
	if peer, ok := j.sched.peers.Lookup(j.PeerID); ok && peer.Address != "" {
		return peer
	}
	return j.peer
}

func (j *Job) run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < j.Options.ConcurrencyLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.worker(ctx)
		}()
	}

	j.walk(ctx)

	j.mu.Lock()
	j.walkDone = true
	j.signalLocked()
	j.mu.Unlock()

	wg.Wait()
	j.finish()
}

type walkItem struct {
	rel string
	// aborted is set when the local directory for this subtree could not be created.
	aborted error
}

func (j *Job) walk(ctx context.Context) {
	queue := []walkItem{{rel: ""}}
	for len(queue) > 0 {
		if j.cancelled() {
			return
		}
		item := queue[0]
		queue = queue[1:]

		entries, err := j.listLevel(ctx, item.rel)
		if err != nil {
			if j.cancelled() {
				return
			}
			var notDir *NotDirectoryError
			if item.rel == "" && errors.As(err, &notDir) {
				j.confirmPeer()
				j.addRootFile(notDir.Size)
				return
			}
			j.recordWalkError(item.rel, err)
			continue
		}
		j.confirmPeer()

		if item.aborted == nil {
			if err := j.sched.fs.EnsureDirectory(j.localPath(item.rel)); err != nil {
				item.aborted = PathError{Path: item.rel, Err: err}
				j.log.Warn("local directory failed, aborting subtree", "path", item.rel, "error", err)
			}
		}
		for _, entry := range entries {
			if entry.IsDirectory {
				queue = append(queue, walkItem{rel: entry.Path, aborted: item.aborted})
				continue
			}
			task := newFileTask(entry.Path, entry.Size)
			task.remotePath = joinRemote(j.RemoteRoot, entry.Path)
			task.localPath = j.localPath(entry.Path)
			j.addTask(task, item.aborted)
		}
	}
}

// listLevel reads one directory level. The local directory is only created once
// its listing succeeded.
func (j *Job) listLevel(ctx context.Context, rel string) ([]models.RemoteEntry, error) {
	var entries []models.RemoteEntry
	for entry, err := range j.sched.walker.ListChildren(ctx, j.endpoint(), j.RemoteRoot, rel) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// addRootFile schedules the single task of a job whose remote root is a file. The
// file lands at the job destination.
func (j *Job) addRootFile(size int64) {
	task := newFileTask(path.Base(j.RemoteRoot), size)
	task.remotePath = j.RemoteRoot
	task.localPath = j.Destination

	var aborted error
	if err := j.sched.fs.EnsureDirectory(j.LocalRoot); err != nil {
		aborted = PathError{Err: err}
		j.log.Warn("local directory failed", "path", j.LocalRoot, "error", err)
	}
	j.addTask(task, aborted)
}

func (j *Job) recordWalkError(rel string, err error) {
	j.log.Warn("remote listing failed, skipping subtree", "path", rel, "error", err)
	j.mu.Lock()
	j.walkErrors = append(j.walkErrors, PathError{Path: rel, Err: err})
	j.mu.Unlock()
}

func (j *Job) confirmPeer() {
	j.mu.Lock()
	first := !j.confirmed
	j.confirmed = true
	j.mu.Unlock()
	if first {
		j.sched.peers.Confirm(j.PeerID)
	}
}

func (j *Job) addTask(task *FileTask, aborted error) {
	skip := false
	if aborted == nil {
		size, ok, err := j.sched.fs.StatSize(task.localPath)
		skip = err == nil && ok && size == task.ExpectedSize
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.tasks = append(j.tasks, task)
	switch {
	case aborted != nil:
		task.LastError = aborted
		_ = task.transition(TaskFailed)
	case skip:
		_ = task.transition(TaskCompleted)
		task.Skipped = true
		task.addBytes(task.ExpectedSize)
	case j.cancelRequested:
	default:
		j.ready = append(j.ready, task)
	}
	j.signalLocked()
}

func (j *Job) worker(ctx context.Context) {
	for {
		task, ok := j.next()
		if !ok {
			return
		}
		err := j.download(ctx, task)
		j.settle(task, err)
	}
}

// next blocks until a task is ready or no more work can arrive.
func (j *Job) next() (*FileTask, bool) {
	j.mu.Lock()
	for {
		if j.cancelRequested {
			j.mu.Unlock()
			return nil, false
		}
		if len(j.ready) > 0 {
			task := j.ready[0]
			j.ready = j.ready[1:]
			_ = task.transition(TaskDownloading)
			task.Attempt++
			task.BytesTransferred = 0
			j.downloading++
			j.mu.Unlock()
			return task, true
		}
		if j.walkDone && j.delayed == 0 && j.downloading == 0 {
			j.mu.Unlock()
			return nil, false
		}
		changed := j.changed
		j.mu.Unlock()
		<-changed
		j.mu.Lock()
	}
}

func (j *Job) settle(task *FileTask, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.downloading--
	defer j.signalLocked()

	if err != nil && j.cancelRequested {
		err = ErrCancelled
	}
	switch {
	case err == nil:
		task.LastError = nil
		_ = task.transition(TaskCompleted)
	case errors.Is(err, ErrCancelled):
		// an interrupted attempt is not counted against the retry budget
		task.Attempt--
		_ = task.transition(TaskPending)
	case task.Attempt < j.Options.MaxAttempts:
		task.LastError = err
		_ = task.transition(TaskPending)
		delay := task.nextRetryDelay(j.Options.BaseDelay, j.Options.MaxDelay)
		j.log.Debug("file transfer failed, retrying", "path", task.RelativePath,
			"attempt", task.Attempt, "delay", delay, "error", err)
		j.delayed++
		j.timers[task] = time.AfterFunc(delay, func() { j.requeue(task) })
	default:
		task.LastError = err
		_ = task.transition(TaskFailed)
		j.log.Warn("file transfer failed", "path", task.RelativePath, "attempts", task.Attempt, "error", err)
	}
}

func (j *Job) requeue(task *FileTask) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.timers[task]; !ok {
		return
	}
	delete(j.timers, task)
	j.delayed--
	j.ready = append(j.ready, task)
	j.signalLocked()
}

func (j *Job) download(ctx context.Context, task *FileTask) error {
	if j.cancelled() {
		return ErrCancelled
	}
	peer := j.endpoint()
	remote := task.remotePath

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var timedOut atomic.Bool
	timer := time.AfterFunc(j.Options.ChunkTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer timer.Stop()

	body, declared, err := j.sched.streamer.OpenStream(streamCtx, peer.Address, peer.Port, remote)
	if err != nil {
		return j.streamError(remote, err, &timedOut)
	}
	defer closeQuietly(body)

	if declared >= 0 && declared != task.ExpectedSize {
		return fmt.Errorf("%w: %s declared %d bytes, listing reported %d", ErrProtocol, remote, declared, task.ExpectedSize)
	}

	out, err := j.sched.fs.OpenForWrite(task.localPath)
	if err != nil {
		return err
	}

	buf := make([]byte, j.Options.ChunkSize)
	var written int64
	for {
		if j.cancelled() {
			closeQuietly(out)
			return ErrCancelled
		}
		timer.Reset(j.Options.ChunkTimeout)
		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if written+int64(n) > task.ExpectedSize {
				closeQuietly(out)
				return fmt.Errorf("%w: %s sent more than %d bytes", ErrProtocol, remote, task.ExpectedSize)
			}
			if _, err := out.Write(buf[:n]); err != nil {
				closeQuietly(out)
				return fmt.Errorf("%w: write %s: %v", ErrLocalIO, task.RelativePath, err)
			}
			written += int64(n)
			j.recordBytes(task, int64(n))
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			closeQuietly(out)
			return j.streamError(remote, readErr, &timedOut)
		}
	}
	timer.Stop()

	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrLocalIO, task.RelativePath, err)
	}
	if written != task.ExpectedSize {
		return fmt.Errorf("%w: %s ended after %d of %d bytes", ErrProtocol, remote, written, task.ExpectedSize)
	}
	return nil
}

func (j *Job) streamError(remote string, err error, timedOut *atomic.Bool) error {
	switch {
	case timedOut.Load():
		return fmt.Errorf("%w: %s: no data within %s", ErrTimeout, remote, j.Options.ChunkTimeout)
	case j.cancelled():
		return ErrCancelled
	case errors.Is(err, ErrPeerUnreachable), errors.Is(err, ErrNotFound), errors.Is(err, ErrProtocol),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrLocalIO):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, remote, err)
	}
}

func (j *Job) recordBytes(task *FileTask, n int64) {
	now := j.sched.now()
	j.mu.Lock()
	defer j.mu.Unlock()

	task.addBytes(n)
	j.networkBytes += n
	j.samples = append(j.samples, byteSample{at: now, n: n})

	cutoff := now.Add(-j.Options.SpeedWindow)
	drop := 0
	for drop < len(j.samples) && j.samples[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		j.samples = append(j.samples[:0], j.samples[drop:]...)
	}
}

func (j *Job) finish() {
	j.mu.Lock()
	j.finishedAt = j.sched.now()
	for task, timer := range j.timers {
		timer.Stop()
		delete(j.timers, task)
	}
	j.mu.Unlock()

	j.cancelRun()
	if j.stopWatch != nil {
		j.stopWatch()
	}
	j.sched.peers.Release(j.PeerID)

	report := j.Report()
	j.log.Info("transfer job finished", "state", report.State, "completed", report.Completed,
		"failed", report.Failed, "skipped", report.Skipped, "bytes", report.BytesDownloaded)
	close(j.done)
}
