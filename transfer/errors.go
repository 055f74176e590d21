package transfer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPeerUnreachable indicates a network or connection failure talking to a peer.
	ErrPeerUnreachable = errors.New("transfer: peer unreachable")
	// ErrNotFound indicates the remote path no longer exists.
	ErrNotFound = errors.New("transfer: remote path not found")
	// ErrProtocol indicates a malformed or unexpected server response.
	ErrProtocol = errors.New("transfer: protocol error")
	// ErrLocalIO indicates a local filesystem failure (disk full, permissions, path too long).
	ErrLocalIO = errors.New("transfer: local i/o error")
	// ErrTimeout indicates a chunk read deadline expired.
	ErrTimeout = errors.New("transfer: chunk timeout")
	// ErrCancelled indicates the caller aborted the job.
	ErrCancelled = errors.New("transfer: cancelled")
	// ErrUnknownPeer indicates a job was submitted for a peer the directory does not know.
	ErrUnknownPeer = errors.New("transfer: unknown peer")
	// ErrJobRunning indicates an operation that requires a finished job.
	ErrJobRunning = errors.New("transfer: job still running")
	// ErrNotDirectory indicates a listing was requested for a regular file.
	ErrNotDirectory = errors.New("transfer: not a directory")
)

// NotDirectoryError is returned by a RemoteLister asked to list a regular file.
type NotDirectoryError struct {
	Path string
	Size int64
}

func (e *NotDirectoryError) Error() string {
	return fmt.Sprintf("%v: %s (%d bytes)", ErrNotDirectory, e.Path, e.Size)
}

func (e *NotDirectoryError) Unwrap() error {
	return ErrNotDirectory
}

// ErrorKind returns a short stable name for the taxonomy member wrapped by err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrPeerUnreachable):
		return "peer_unreachable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrLocalIO):
		return "local_io_error"
	case errors.Is(err, ErrNotDirectory):
		return "not_directory"
	default:
		return "unknown"
	}
}

// PathError records a failure tied to one relative path of a job.
type PathError struct {
	Path string
	Err  error
}

func (e PathError) Error() string {
	if e.Path == "" {
		return "<root>: " + e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e PathError) Unwrap() error {
	return e.Err
}
