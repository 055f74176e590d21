package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchedulerConfig wires a Scheduler to its collaborators.
type SchedulerConfig struct {
	Peers    PeerDirectory
	Lister   RemoteLister
	Streamer RemoteStreamer
	// FS defaults to the operating system filesystem.
	FS LocalFS
	// Defaults fill zero fields of the Options passed to Submit.
	Defaults Options
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scheduler runs folder download jobs against discovered peers.
type Scheduler struct {
	peers    PeerDirectory
	walker   *Walker
	streamer RemoteStreamer
	fs       LocalFS
	defaults Options
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewScheduler builds a scheduler. Peers, Lister and Streamer are required.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Peers == nil {
		return nil, errors.New("peer directory is required")
	}
	if cfg.Lister == nil || cfg.Streamer == nil {
		return nil, errors.New("remote lister and streamer are required")
	}
	if cfg.FS == nil {
		cfg.FS = NewOSFileSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Scheduler{
		peers:    cfg.Peers,
		walker:   NewWalker(cfg.Lister),
		streamer: cfg.Streamer,
		fs:       cfg.FS,
		defaults: cfg.Defaults.withDefaults(DefaultOptions()),
		log:      cfg.Logger,
		now:      cfg.Now,
		jobs:     make(map[string]*Job),
	}, nil
}

// Submit starts downloading remoteRoot from the peer into a folder of the same name
// under localRoot. Submitting the root path "/" mirrors the share directly into localRoot.
//
// The job runs in the background. Cancelling ctx cancels the job.
func (s *Scheduler) Submit(ctx context.Context, peerID, remoteRoot, localRoot string, opts Options) (*Job, error) {
	if strings.TrimSpace(localRoot) == "" {
		return nil, errors.New("local root is required")
	}
	cleanRoot := path.Clean("/" + strings.ReplaceAll(remoteRoot, "\\", "/"))

	peer, err := s.peers.Acquire(peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownPeer, peerID, err)
	}

	destination := localRoot
	if cleanRoot != "/" {
		destination = filepath.Join(localRoot, path.Base(cleanRoot))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:          uuid.NewString(),
		PeerID:      peer.ID,
		RemoteRoot:  cleanRoot,
		LocalRoot:   localRoot,
		Destination: destination,
		Options:     opts.withDefaults(s.defaults),
		StartedAt:   s.now(),
		sched:       s,
		peer:        peer,
		cancelRun:   cancel,
		changed:     make(chan struct{}),
		done:        make(chan struct{}),
		timers:      make(map[*FileTask]*time.Timer),
	}
	job.log = s.log.With("job", job.ID, "peer", peer.ID)
	if ctx != nil {
		job.stopWatch = context.AfterFunc(ctx, job.Cancel)
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	job.log.Info("transfer job submitted", "remote_root", cleanRoot, "destination", destination,
		"concurrency", job.Options.ConcurrencyLimit)
	go job.run(runCtx)
	return job, nil
}

// Cancel stops dispatching new work for job. In-flight files stop at their next
// chunk boundary and completed files stay on disk.
func (s *Scheduler) Cancel(job *Job) {
	if job != nil {
		job.Cancel()
	}
}

// Acknowledge forgets a finished job.
func (s *Scheduler) Acknowledge(job *Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	select {
	case <-job.done:
	default:
		return fmt.Errorf("%w: %s", ErrJobRunning, job.ID)
	}
	s.mu.Lock()
	delete(s.jobs, job.ID)
	s.mu.Unlock()
	return nil
}

// Job returns a job that has not been acknowledged yet.
func (s *Scheduler) Job(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Jobs returns the unacknowledged jobs ordered by start time.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].StartedAt.Equal(jobs[k].StartedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].StartedAt.Before(jobs[k].StartedAt)
	})
	return jobs
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
