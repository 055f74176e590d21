package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusPartial   = "partial"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	FileStatusPending     = "pending"
	FileStatusDownloading = "downloading"
	FileStatusCompleted   = "completed"
	FileStatusFailed      = "failed"
)

// TransferJob is the SQLite representation of one folder download.
type TransferJob struct {
	JobID           string
	PeerID          string
	PeerName        string
	RemoteRoot      string
	Destination     string
	Status          string
	TotalFiles      int
	CompletedFiles  int
	SkippedFiles    int
	FailedFiles     int
	BytesDownloaded int64
	StartedAt       int64
	FinishedAt      *int64
}

// JobFile is the recorded outcome of one file of a job.
type JobFile struct {
	JobID            string
	RelativePath     string
	Size             int64
	BytesTransferred int64
	Attempts         int
	Status           string
	Skipped          bool
	ErrorKind        string
	Error            string
}

func validateJobStatus(status string) error {
	switch status {
	case JobStatusRunning, JobStatusCompleted, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid job status %q", status)
	}
}

func validateFileStatus(status string) error {
	switch status {
	case FileStatusPending, FileStatusDownloading, FileStatusCompleted, FileStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid file status %q", status)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
