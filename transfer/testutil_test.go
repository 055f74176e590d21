package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lanpull/models"
)

// memPeer is an in-memory remote share implementing RemoteLister and RemoteStreamer.
type memPeer struct {
	mu       sync.Mutex
	dirs     map[string][]RemoteItem
	files    map[string][]byte
	listErr  map[string]error
	failures map[string]int
	// cutoffs makes the next N streams of a file break halfway through.
	cutoffs   map[string]int
	openErr   error
	opens     map[string]int
	listCalls map[string]int
	// block makes reads of the named files wait for the stream context to end.
	block map[string]bool
	// stall serves the first N bytes of the named files, then blocks like block.
	stall map[string]int
	// readDelay slows every Read so streams overlap.
	readDelay time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
	blocked   chan string
}

func newMemPeer() *memPeer {
	m := &memPeer{
		dirs:      make(map[string][]RemoteItem),
		files:     make(map[string][]byte),
		listErr:   make(map[string]error),
		failures:  make(map[string]int),
		cutoffs:   make(map[string]int),
		opens:     make(map[string]int),
		listCalls: make(map[string]int),
		block:     make(map[string]bool),
		stall:     make(map[string]int),
		openErr:   fmt.Errorf("%w: connection reset", ErrPeerUnreachable),
		blocked:   make(chan string, 64),
	}
	m.dirs["/"] = nil
	return m
}

func (m *memPeer) addDir(p string) {
	p = path.Clean(p)
	if _, ok := m.dirs[p]; ok {
		return
	}
	m.dirs[p] = nil
	parent := path.Dir(p)
	m.addDir(parent)
	m.dirs[parent] = append(m.dirs[parent], RemoteItem{Name: path.Base(p), IsDirectory: true})
}

func (m *memPeer) addFile(p string, data []byte) {
	p = path.Clean(p)
	parent := path.Dir(p)
	m.addDir(parent)
	m.dirs[parent] = append(m.dirs[parent], RemoteItem{Name: path.Base(p), Size: int64(len(data))})
	m.files[p] = data
}

func (m *memPeer) openCount(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[p]
}

func (m *memPeer) totalOpens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.opens {
		total += n
	}
	return total
}

func (m *memPeer) List(_ context.Context, _ string, _ int, dir string) ([]RemoteItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls[dir]++
	if err := m.listErr[dir]; err != nil {
		return nil, err
	}
	if data, ok := m.files[dir]; ok {
		return nil, &NotDirectoryError{Path: dir, Size: int64(len(data))}
	}
	items, ok := m.dirs[dir]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	return append([]RemoteItem(nil), items...), nil
}

func (m *memPeer) OpenStream(ctx context.Context, _ string, _ int, p string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	m.opens[p]++
	if m.failures[p] > 0 {
		m.failures[p]--
		m.mu.Unlock()
		return nil, 0, m.openErr
	}
	data, ok := m.files[p]
	cut := false
	if m.cutoffs[p] > 0 {
		m.cutoffs[p]--
		cut = true
	}
	blocking := m.block[p]
	stallAt, stalls := m.stall[p]
	delay := m.readDelay
	m.mu.Unlock()

	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	n := m.active.Add(1)
	for {
		current := m.maxActive.Load()
		if n <= current || m.maxActive.CompareAndSwap(current, n) {
			break
		}
	}
	if blocking {
		m.blocked <- p
	}
	stream := &memStream{
		ctx:      ctx,
		reader:   bytes.NewReader(data),
		blocking: blocking,
		delay:    delay,
		onClose:  func() { m.active.Add(-1) },
	}
	if cut {
		stream.reader = bytes.NewReader(data[:len(data)/2])
		stream.err = m.openErr
	}
	if stalls {
		stream.reader = bytes.NewReader(data[:stallAt])
		stream.onStall = func() { m.blocked <- p }
	}
	return stream, int64(len(data)), nil
}

type memStream struct {
	ctx      context.Context
	reader   *bytes.Reader
	blocking bool
	delay    time.Duration
	err      error
	once     sync.Once
	onClose  func()
	// onStall is called once when the reader runs dry; the stream then blocks.
	onStall func()
}

func (s *memStream) Read(p []byte) (int, error) {
	if s.blocking {
		<-s.ctx.Done()
		return 0, s.ctx.Err()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return 0, s.ctx.Err()
		}
	}
	if len(p) > 16 {
		p = p[:16]
	}
	if s.onStall != nil && s.reader.Len() == 0 {
		s.onStall()
		s.onStall = nil
		s.blocking = true
		<-s.ctx.Done()
		return 0, s.ctx.Err()
	}
	n, err := s.reader.Read(p)
	if err == io.EOF && s.err != nil {
		return n, s.err
	}
	return n, err
}

func (s *memStream) Close() error {
	s.once.Do(s.onClose)
	return nil
}

// fakePeers is a PeerDirectory holding a fixed set of peers.
type fakePeers struct {
	mu        sync.Mutex
	peers     map[string]models.Peer
	refs      map[string]int
	confirmed map[string]int
}

func newFakePeers(ids ...string) *fakePeers {
	f := &fakePeers{
		peers:     make(map[string]models.Peer),
		refs:      make(map[string]int),
		confirmed: make(map[string]int),
	}
	for _, id := range ids {
		f.peers[id] = models.Peer{ID: id, DisplayName: id, Address: "192.0.2.10", Port: 8080, State: models.PeerDiscovered}
	}
	return f
}

func (f *fakePeers) Acquire(id string) (models.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	peer, ok := f.peers[id]
	if !ok {
		return models.Peer{}, fmt.Errorf("no peer %q", id)
	}
	f.refs[id]++
	return peer, nil
}

func (f *fakePeers) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[id]--
}

func (f *fakePeers) Lookup(id string) (models.Peer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	peer, ok := f.peers[id]
	return peer, ok
}

func (f *fakePeers) Confirm(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed[id]++
}

func (f *fakePeers) refCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[id]
}

func (f *fakePeers) confirmCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmed[id]
}

func newTestScheduler(t *testing.T, peers PeerDirectory, remote *memPeer, fs LocalFS) *Scheduler {
	t.Helper()
	sched, err := NewScheduler(SchedulerConfig{
		Peers:    peers,
		Lister:   remote,
		Streamer: remote,
		FS:       fs,
		Defaults: Options{
			BaseDelay:    time.Millisecond,
			MaxDelay:     10 * time.Millisecond,
			ChunkSize:    64,
			ChunkTimeout: 2 * time.Second,
		},
	})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return sched
}

func waitForJob(t *testing.T, job *Job, timeout time.Duration) Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := job.Wait(ctx); err != nil {
		t.Fatalf("job %s did not finish within %s: %+v", job.ID, timeout, job.Report())
	}
	return job.Report()
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}

func fixtureBytes(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) ^ seed
	}
	return data
}
