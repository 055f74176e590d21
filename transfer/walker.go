package transfer

import (
	"context"
	"fmt"
	"iter"
	"path"
	"strings"

	"lanpull/models"
)

// Walker turns a peer's listing endpoint into per-level entry sequences.
type Walker struct {
	lister RemoteLister
}

// NewWalker returns a walker backed by lister.
func NewWalker(lister RemoteLister) *Walker {
	return &Walker{lister: lister}
}

// ListChildren yields the immediate children of dir, where dir is relative to root on
// the given peer. Entry paths are relative to root.
//
// The listing request is issued when iteration starts, exactly once per call. A failed
// or malformed listing yields a single (zero entry, err) pair and nothing else. Iterating the
// same sequence again issues a fresh request.
func (w *Walker) ListChildren(ctx context.Context, peer models.Peer, root, dir string) iter.Seq2[models.RemoteEntry, error] {
	return func(yield func(models.RemoteEntry, error) bool) {
		remoteDir := joinRemote(root, dir)
		items, err := w.lister.List(ctx, peer.Address, peer.Port, remoteDir)
		if err != nil {
			yield(models.RemoteEntry{}, err)
			return
		}
		entries := make([]models.RemoteEntry, 0, len(items))
		for _, item := range items {
			if !safeName(item.Name) {
				yield(models.RemoteEntry{}, fmt.Errorf("%w: unsafe entry name %q in %s", ErrProtocol, item.Name, remoteDir))
				return
			}
			entry := models.RemoteEntry{
				Path:        joinRelative(dir, item.Name),
				IsDirectory: item.IsDirectory,
			}
			if !item.IsDirectory {
				if item.Size < 0 {
					yield(models.RemoteEntry{}, fmt.Errorf("%w: negative size for %q", ErrProtocol, entry.Path))
					return
				}
				entry.Size = item.Size
			}
			entries = append(entries, entry)
		}
		for _, entry := range entries {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

func joinRelative(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// joinRemote builds the absolute remote path for a directory relative to root.
func joinRemote(root, rel string) string {
	return path.Join("/", root, rel)
}
