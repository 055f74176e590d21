package transfer

import (
	"context"
	"io"

	"lanpull/models"
)

// RemoteItem is one raw child returned by a peer's listing endpoint.
type RemoteItem struct {
	Name        string
	IsDirectory bool
	Size        int64
}

// RemoteLister lists one directory level of a peer's shared tree.
//
// Implementations return errors wrapping ErrPeerUnreachable, ErrNotFound or ErrProtocol.
// Listing a regular file returns a *NotDirectoryError carrying its size.
type RemoteLister interface {
	List(ctx context.Context, address string, port int, dir string) ([]RemoteItem, error)
}

// RemoteStreamer opens a readable byte stream for one remote file.
//
// The returned length is the declared content length, or -1 when the peer did not declare one.
type RemoteStreamer interface {
	OpenStream(ctx context.Context, address string, port int, path string) (io.ReadCloser, int64, error)
}

// LocalFS is the destination filesystem a job writes into.
type LocalFS interface {
	EnsureDirectory(path string) error
	OpenForWrite(path string) (io.WriteCloser, error)
	// StatSize reports the size of a regular file, or ok=false when nothing usable exists.
	StatSize(path string) (size int64, ok bool, err error)
}

// PeerDirectory resolves peer IDs for jobs and tracks which peers jobs still reference.
type PeerDirectory interface {
	Acquire(id string) (models.Peer, error)
	Release(id string)
	Lookup(id string) (models.Peer, bool)
	Confirm(id string)
}
