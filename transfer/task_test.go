package transfer

import (
	"testing"
	"time"
)

func TestTaskTransitions(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskPending, TaskDownloading, true},
		{TaskPending, TaskCompleted, true},
		{TaskPending, TaskFailed, true},
		{TaskDownloading, TaskCompleted, true},
		{TaskDownloading, TaskPending, true},
		{TaskDownloading, TaskFailed, true},
		{TaskCompleted, TaskPending, false},
		{TaskCompleted, TaskDownloading, false},
		{TaskFailed, TaskPending, false},
		{TaskFailed, TaskCompleted, false},
		{TaskPending, TaskPending, false},
	}
	for _, tc := range cases {
		task := newFileTask("a.txt", 10)
		task.Status = tc.from
		err := task.transition(tc.to)
		if (err == nil) != tc.ok {
			t.Fatalf("%s -> %s: expected ok=%v, got err=%v", tc.from, tc.to, tc.ok, err)
		}
		if !tc.ok && task.Status != tc.from {
			t.Fatalf("%s -> %s: rejected transition changed status to %s", tc.from, tc.to, task.Status)
		}
	}
}

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	task := newFileTask("a.txt", 10)
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
		3 * time.Second,
	}
	for i, expected := range want {
		if got := task.nextRetryDelay(500*time.Millisecond, 3*time.Second); got != expected {
			t.Fatalf("retry %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestProgressBytesKeepsHighWater(t *testing.T) {
	task := newFileTask("a.txt", 100)
	task.addBytes(60)
	task.BytesTransferred = 0
	task.addBytes(10)
	if task.progressBytes() != 60 {
		t.Fatalf("expected high-water 60, got %d", task.progressBytes())
	}
	task.addBytes(90)
	if task.progressBytes() != 100 {
		t.Fatalf("expected 100, got %d", task.progressBytes())
	}
}
