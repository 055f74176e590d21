package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSubmitMirrorsRemoteTree(t *testing.T) {
	remote := newMemPeer()
	files := map[string][]byte{
		"/photos/a.jpg":           fixtureBytes(300, 1),
		"/photos/sub/b.jpg":       fixtureBytes(129, 2),
		"/photos/sub/deep/c.txt":  fixtureBytes(5, 3),
		"/photos/sub/deep/zero.b": {},
	}
	for p, data := range files {
		remote.addFile(p, data)
	}
	remote.addDir("/photos/empty")

	peers := newFakePeers("peer-b")
	sched := newTestScheduler(t, peers, remote, nil)
	localRoot := t.TempDir()

	job, err := sched.Submit(context.Background(), "peer-b", "/photos", localRoot, Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.State != JobCompleted {
		t.Fatalf("expected completed job, got %s (%+v)", report.State, report)
	}
	if report.Completed != len(files) || report.Failed != 0 || report.Skipped != 0 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if job.Destination != filepath.Join(localRoot, "photos") {
		t.Fatalf("unexpected destination %q", job.Destination)
	}
	for p, want := range files {
		local := filepath.Join(localRoot, filepath.FromSlash(strings.TrimPrefix(p, "/")))
		got, err := os.ReadFile(local)
		if err != nil {
			t.Fatalf("read %s: %v", local, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("content mismatch for %s", p)
		}
	}
	if info, err := os.Stat(filepath.Join(localRoot, "photos", "empty")); err != nil || !info.IsDir() {
		t.Fatalf("expected empty directory to be mirrored, err=%v", err)
	}

	var total int64
	for _, data := range files {
		total += int64(len(data))
	}
	if report.BytesDownloaded != total {
		t.Fatalf("expected %d bytes downloaded, got %d", total, report.BytesDownloaded)
	}
	if peers.confirmCount("peer-b") != 1 {
		t.Fatalf("expected one confirmation, got %d", peers.confirmCount("peer-b"))
	}
	if peers.refCount("peer-b") != 0 {
		t.Fatalf("expected peer reference released, got %d", peers.refCount("peer-b"))
	}
}

func TestSubmitRootMirrorsIntoLocalRoot(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/readme.txt", []byte("hello"))

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	localRoot := t.TempDir()
	job, err := sched.Submit(context.Background(), "peer-b", "/", localRoot, Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForJob(t, job, 5*time.Second)

	got, err := os.ReadFile(filepath.Join(localRoot, "readme.txt"))
	if err != nil || string(got) != "hello" {
		t.Fatalf("unexpected root download: %q err=%v", got, err)
	}
}

func TestSubmitSkipsFilesAlreadyPresent(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/docs/a.txt", fixtureBytes(100, 1))
	remote.addFile("/docs/b.txt", fixtureBytes(200, 2))
	remote.addFile("/docs/nested/c.txt", fixtureBytes(50, 3))

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	localRoot := t.TempDir()

	first, err := sched.Submit(context.Background(), "peer-b", "/docs", localRoot, Options{})
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	waitForJob(t, first, 5*time.Second)
	opensAfterFirst := remote.totalOpens()

	second, err := sched.Submit(context.Background(), "peer-b", "/docs", localRoot, Options{})
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	report := waitForJob(t, second, 5*time.Second)

	if report.State != JobCompleted || report.Completed != 3 || report.Skipped != 3 {
		t.Fatalf("expected every file skipped, got %+v", report)
	}
	if remote.totalOpens() != opensAfterFirst {
		t.Fatalf("expected no new streams, got %d after %d", remote.totalOpens(), opensAfterFirst)
	}
	if report.BytesDownloaded != 0 {
		t.Fatalf("expected zero network bytes, got %d", report.BytesDownloaded)
	}
	for _, task := range second.Tasks() {
		if task.Attempt != 0 || task.BytesTransferred != task.ExpectedSize {
			t.Fatalf("unexpected skipped task state: %+v", task)
		}
	}
}

func TestSubmitRedownloadsFileWithDifferentSize(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/docs/a.txt", fixtureBytes(100, 1))

	localRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(localRoot, "docs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(localRoot, "docs", "a.txt"), []byte("stale"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	job, err := sched.Submit(context.Background(), "peer-b", "/docs", localRoot, Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)
	if report.Skipped != 0 || report.Completed != 1 {
		t.Fatalf("expected a fresh download, got %+v", report)
	}
	got, _ := os.ReadFile(filepath.Join(localRoot, "docs", "a.txt"))
	if !bytes.Equal(got, fixtureBytes(100, 1)) {
		t.Fatalf("stale content was not replaced")
	}
}

func TestRetryCeilingMarksFileFailed(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/share/good1.bin", fixtureBytes(80, 1))
	remote.addFile("/share/bad.bin", fixtureBytes(80, 2))
	remote.addFile("/share/good2.bin", fixtureBytes(80, 3))
	remote.failures["/share/bad.bin"] = 1000

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	job, err := sched.Submit(context.Background(), "peer-b", "/share", t.TempDir(), Options{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.State != JobPartial {
		t.Fatalf("expected partial job, got %s", report.State)
	}
	if report.Completed != 2 || report.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].Path != "bad.bin" || report.Failures[0].Attempts != 3 {
		t.Fatalf("unexpected failures: %+v", report.Failures)
	}
	if !errors.Is(report.Failures[0].Err, ErrPeerUnreachable) {
		t.Fatalf("expected peer unreachable error, got %v", report.Failures[0].Err)
	}
	if got := remote.openCount("/share/bad.bin"); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/share/flaky.bin", fixtureBytes(200, 7))
	remote.failures["/share/flaky.bin"] = 2

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	localRoot := t.TempDir()
	job, err := sched.Submit(context.Background(), "peer-b", "/share", localRoot, Options{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.State != JobCompleted {
		t.Fatalf("expected completed job, got %+v", report)
	}
	tasks := job.Tasks()
	if len(tasks) != 1 || tasks[0].Attempt != 3 || tasks[0].Status != TaskCompleted {
		t.Fatalf("unexpected task: %+v", tasks)
	}
	if tasks[0].LastError != nil {
		t.Fatalf("expected last error cleared, got %v", tasks[0].LastError)
	}
}

func TestConcurrencyLimitBoundsActiveStreams(t *testing.T) {
	remote := newMemPeer()
	for i := 0; i < 20; i++ {
		remote.addFile(fmt.Sprintf("/bulk/f%02d.bin", i), fixtureBytes(64, byte(i)))
	}
	remote.readDelay = 2 * time.Millisecond

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	job, err := sched.Submit(context.Background(), "peer-b", "/bulk", t.TempDir(), Options{ConcurrencyLimit: 3})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	maxDownloading := 0
	for {
		snap := job.Progress()
		if snap.Downloading > maxDownloading {
			maxDownloading = snap.Downloading
		}
		if snap.Done {
			break
		}
		time.Sleep(time.Millisecond)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.Completed != 20 {
		t.Fatalf("expected 20 completed files, got %+v", report)
	}
	if got := remote.maxActive.Load(); got > 3 || got < 1 {
		t.Fatalf("expected between 1 and 3 concurrent streams, got %d", got)
	}
	if maxDownloading > 3 {
		t.Fatalf("observed %d downloading tasks with limit 3", maxDownloading)
	}
}

func TestCancelKeepsCompletedFilesAndStopsDispatch(t *testing.T) {
	remote := newMemPeer()
	names := []string{"a", "b", "c", "d", "e", "f"}
	for i, name := range names {
		remote.addFile("/big/"+name+".bin", fixtureBytes(100, byte(i)))
	}
	remote.block["/big/c.bin"] = true

	peers := newFakePeers("peer-b")
	sched := newTestScheduler(t, peers, remote, nil)
	localRoot := t.TempDir()
	job, err := sched.Submit(context.Background(), "peer-b", "/big", localRoot, Options{ConcurrencyLimit: 1})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-remote.blocked:
	case <-time.After(5 * time.Second):
		t.Fatalf("blocking stream never opened")
	}
	sched.Cancel(job)
	report := waitForJob(t, job, 5*time.Second)

	if report.State != JobCancelled {
		t.Fatalf("expected cancelled job, got %s", report.State)
	}
	if report.Completed != 2 || report.Failed != 0 || report.Pending != 4 {
		t.Fatalf("unexpected counts after cancel: %+v", report)
	}
	for _, name := range []string{"a", "b"} {
		if _, err := os.Stat(filepath.Join(localRoot, "big", name+".bin")); err != nil {
			t.Fatalf("completed file %s removed: %v", name, err)
		}
	}
	for _, name := range []string{"d", "e", "f"} {
		if got := remote.openCount("/big/" + name + ".bin"); got != 0 {
			t.Fatalf("file %s dispatched after cancel", name)
		}
	}
	for _, task := range job.Tasks() {
		if task.RelativePath == "c.bin" && (task.Status != TaskPending || task.Attempt != 0) {
			t.Fatalf("interrupted task should be pending without a spent attempt: %+v", task)
		}
	}
	if peers.refCount("peer-b") != 0 {
		t.Fatalf("expected peer released after cancel")
	}
}

func TestCancelMidFileLeavesPartialBytes(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/big/part.bin", fixtureBytes(1000, 3))
	remote.stall["/big/part.bin"] = 128

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	localRoot := t.TempDir()
	job, err := sched.Submit(context.Background(), "peer-b", "/big", localRoot, Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-remote.blocked:
	case <-time.After(5 * time.Second):
		t.Fatalf("stream never stalled")
	}
	sched.Cancel(job)
	report := waitForJob(t, job, 5*time.Second)
	if report.State != JobCancelled {
		t.Fatalf("expected cancelled job, got %s", report.State)
	}

	tasks := job.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Status != TaskPending || task.Attempt != 0 {
		t.Fatalf("interrupted task should be pending without a spent attempt: %+v", task)
	}
	if task.BytesTransferred <= 0 || task.BytesTransferred >= task.ExpectedSize {
		t.Fatalf("expected partial progress, got %d of %d", task.BytesTransferred, task.ExpectedSize)
	}
	info, err := os.Stat(filepath.Join(localRoot, "big", "part.bin"))
	if err != nil {
		t.Fatalf("stat partial file: %v", err)
	}
	if info.Size() != task.BytesTransferred {
		t.Fatalf("local size %d does not match transferred bytes %d", info.Size(), task.BytesTransferred)
	}
	if snap := job.Progress(); snap.TotalBytesTransferred != task.BytesTransferred {
		t.Fatalf("progress %d does not match task bytes %d", snap.TotalBytesTransferred, task.BytesTransferred)
	}
}

func TestSubmitContextCancelsJob(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/big/slow.bin", fixtureBytes(100, 1))
	remote.block["/big/slow.bin"] = true

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	ctx, cancel := context.WithCancel(context.Background())
	job, err := sched.Submit(ctx, "peer-b", "/big", t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-remote.blocked
	cancel()

	report := waitForJob(t, job, 5*time.Second)
	if report.State != JobCancelled {
		t.Fatalf("expected cancelled job, got %s", report.State)
	}
}

type failingDirFS struct {
	*OSFileSystem
	fail string
}

func (f failingDirFS) EnsureDirectory(path string) error {
	if filepath.Base(path) == f.fail {
		return fmt.Errorf("%w: permission denied", ErrLocalIO)
	}
	return f.OSFileSystem.EnsureDirectory(path)
}

func TestDirectoryCreationFailureAbortsOnlySubtree(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/root/bad/x.txt", fixtureBytes(10, 1))
	remote.addFile("/root/bad/inner/y.txt", fixtureBytes(20, 2))
	remote.addFile("/root/good/z.txt", fixtureBytes(30, 3))
	remote.addFile("/root/top.txt", fixtureBytes(40, 4))

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, failingDirFS{OSFileSystem: NewOSFileSystem(), fail: "bad"})
	localRoot := t.TempDir()
	job, err := sched.Submit(context.Background(), "peer-b", "/root", localRoot, Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.State != JobPartial || report.Completed != 2 || report.Failed != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	failed := report.FailedPaths()
	if len(failed) != 2 || failed[0] != "bad/inner/y.txt" || failed[1] != "bad/x.txt" {
		t.Fatalf("unexpected failed paths: %v", failed)
	}
	for _, failure := range report.Failures {
		if failure.Attempts != 0 || !errors.Is(failure.Err, ErrLocalIO) {
			t.Fatalf("aborted file should fail without attempts: %+v", failure)
		}
	}
	if remote.openCount("/root/bad/x.txt") != 0 || remote.openCount("/root/bad/inner/y.txt") != 0 {
		t.Fatalf("aborted subtree files were streamed")
	}
	if _, err := os.Stat(filepath.Join(localRoot, "root", "good", "z.txt")); err != nil {
		t.Fatalf("sibling subtree missing: %v", err)
	}
}

func TestListingFailureSkipsSubtree(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/root/broken/x.txt", fixtureBytes(10, 1))
	remote.addFile("/root/ok/y.txt", fixtureBytes(10, 2))
	remote.listErr["/root/broken"] = fmt.Errorf("%w: connection refused", ErrPeerUnreachable)

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	job, err := sched.Submit(context.Background(), "peer-b", "/root", t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.State != JobPartial || report.Completed != 1 || report.Total != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.WalkErrors) != 1 || report.WalkErrors[0].Path != "broken" {
		t.Fatalf("unexpected walk errors: %+v", report.WalkErrors)
	}
	if !errors.Is(report.WalkErrors[0], ErrPeerUnreachable) {
		t.Fatalf("expected peer unreachable walk error, got %v", report.WalkErrors[0])
	}
}

func TestMissingRemoteRootFailsJob(t *testing.T) {
	remote := newMemPeer()
	peers := newFakePeers("peer-b")
	sched := newTestScheduler(t, peers, remote, nil)

	localRoot := t.TempDir()
	job, err := sched.Submit(context.Background(), "peer-b", "/nope", localRoot, Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)
	if report.State != JobFailed || len(report.WalkErrors) != 1 || !errors.Is(report.WalkErrors[0], ErrNotFound) {
		t.Fatalf("unexpected report: %+v", report)
	}
	if peers.confirmCount("peer-b") != 0 {
		t.Fatalf("peer must not be confirmed without a successful listing")
	}
	if _, err := os.Stat(filepath.Join(localRoot, "nope")); !os.IsNotExist(err) {
		t.Fatalf("expected no local directory for a missing remote root, stat err=%v", err)
	}
}

func TestListingFailureCreatesNoLocalDirectory(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/root/broken/x.txt", fixtureBytes(10, 1))
	remote.addFile("/root/ok/y.txt", fixtureBytes(10, 2))
	remote.listErr["/root/broken"] = fmt.Errorf("%w: bad xml", ErrProtocol)

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	localRoot := t.TempDir()
	job, err := sched.Submit(context.Background(), "peer-b", "/root", localRoot, Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForJob(t, job, 5*time.Second)

	if _, err := os.Stat(filepath.Join(localRoot, "root", "broken")); !os.IsNotExist(err) {
		t.Fatalf("unlisted directory should not be created, stat err=%v", err)
	}
	if info, err := os.Stat(filepath.Join(localRoot, "root", "ok")); err != nil || !info.IsDir() {
		t.Fatalf("listed directory missing: %v", err)
	}
}

func TestNestedEntryThatIsFileIsWalkError(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/root/sub/x.txt", fixtureBytes(10, 1))
	remote.addFile("/root/y.txt", fixtureBytes(10, 2))
	remote.listErr["/root/sub"] = &NotDirectoryError{Path: "/root/sub", Size: 4}

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	job, err := sched.Submit(context.Background(), "peer-b", "/root", t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.State != JobPartial || report.Total != 1 || len(report.WalkErrors) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if kind := ErrorKind(report.WalkErrors[0]); kind != "not_directory" {
		t.Fatalf("expected not_directory walk error, got %q", kind)
	}
}

func TestSubmitFileRootDownloadsSingleFile(t *testing.T) {
	remote := newMemPeer()
	want := fixtureBytes(150, 7)
	remote.addFile("/docs/notes.txt", want)
	remote.addFile("/docs/other.txt", fixtureBytes(10, 1))

	peers := newFakePeers("peer-b")
	sched := newTestScheduler(t, peers, remote, nil)
	localRoot := t.TempDir()

	job, err := sched.Submit(context.Background(), "peer-b", "/docs/notes.txt", localRoot, Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.State != JobCompleted || report.Total != 1 || report.Completed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	local := filepath.Join(localRoot, "notes.txt")
	if job.Destination != local {
		t.Fatalf("unexpected destination %q", job.Destination)
	}
	info, err := os.Stat(local)
	if err != nil {
		t.Fatalf("stat %s: %v", local, err)
	}
	if !info.Mode().IsRegular() {
		t.Fatalf("expected a regular file at %s, got mode %v", local, info.Mode())
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("read %s: %v", local, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("content mismatch for file root")
	}
	tasks := job.Tasks()
	if len(tasks) != 1 || tasks[0].RelativePath != "notes.txt" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if remote.openCount("/docs/other.txt") != 0 {
		t.Fatalf("sibling file should not be fetched")
	}
	if peers.confirmCount("peer-b") != 1 {
		t.Fatalf("expected peer confirmed by the root listing")
	}

	again, err := sched.Submit(context.Background(), "peer-b", "/docs/notes.txt", localRoot, Options{})
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	second := waitForJob(t, again, 5*time.Second)
	if second.State != JobCompleted || second.Skipped != 1 || second.BytesDownloaded != 0 {
		t.Fatalf("expected file root to be skipped on re-pull: %+v", second)
	}
}

func TestChunkTimeoutFailsStalledStream(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/slow/stall.bin", fixtureBytes(100, 1))
	remote.block["/slow/stall.bin"] = true

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	job, err := sched.Submit(context.Background(), "peer-b", "/slow", t.TempDir(), Options{
		MaxAttempts:  2,
		ChunkTimeout: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)

	if report.Failed != 1 || report.Failures[0].Attempts != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !errors.Is(report.Failures[0].Err, ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", report.Failures[0].Err)
	}
}

type lyingStreamer struct {
	*memPeer
	declared int64
}

func (l lyingStreamer) OpenStream(ctx context.Context, address string, port int, p string) (io.ReadCloser, int64, error) {
	body, _, err := l.memPeer.OpenStream(ctx, address, port, p)
	return body, l.declared, err
}

func TestDeclaredLengthMismatchIsProtocolError(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/x/file.bin", fixtureBytes(50, 1))

	sched, err := NewScheduler(SchedulerConfig{
		Peers:    newFakePeers("peer-b"),
		Lister:   remote,
		Streamer: lyingStreamer{memPeer: remote, declared: 70},
		Defaults: Options{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	job, err := sched.Submit(context.Background(), "peer-b", "/x", t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := waitForJob(t, job, 5*time.Second)
	if report.Failed != 1 || !errors.Is(report.Failures[0].Err, ErrProtocol) {
		t.Fatalf("expected protocol failure, got %+v", report)
	}
}

func TestSubmitUnknownPeer(t *testing.T) {
	sched := newTestScheduler(t, newFakePeers(), newMemPeer(), nil)
	if _, err := sched.Submit(context.Background(), "ghost", "/x", t.TempDir(), Options{}); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestAcknowledgeRequiresFinishedJob(t *testing.T) {
	remote := newMemPeer()
	remote.addFile("/big/slow.bin", fixtureBytes(100, 1))
	remote.block["/big/slow.bin"] = true

	sched := newTestScheduler(t, newFakePeers("peer-b"), remote, nil)
	job, err := sched.Submit(context.Background(), "peer-b", "/big", t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-remote.blocked

	if err := sched.Acknowledge(job); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}
	if _, ok := sched.Job(job.ID); !ok {
		t.Fatalf("running job should be listed")
	}

	sched.Cancel(job)
	waitForJob(t, job, 5*time.Second)
	if err := sched.Acknowledge(job); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if len(sched.Jobs()) != 0 {
		t.Fatalf("expected no jobs after acknowledge")
	}
}
