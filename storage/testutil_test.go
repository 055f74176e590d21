package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func testJob(jobID string, startedAt int64) TransferJob {
	return TransferJob{
		JobID:       jobID,
		PeerID:      "peer-" + jobID,
		PeerName:    "Laptop",
		RemoteRoot:  "/photos",
		Destination: "/tmp/photos",
		Status:      JobStatusRunning,
		StartedAt:   startedAt,
	}
}

func mustSaveJob(t *testing.T, store *Store, job TransferJob) {
	t.Helper()

	if err := store.SaveJob(job); err != nil {
		t.Fatalf("save job %q: %v", job.JobID, err)
	}
}
