package transfer

import (
	"fmt"
	"io"
	"os"
)

// OSFileSystem writes job output to the local disk.
type OSFileSystem struct {
	DirMode  os.FileMode
	FileMode os.FileMode
}

// NewOSFileSystem returns an OS-backed LocalFS with conventional permissions.
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{DirMode: 0o755, FileMode: 0o644}
}

func (f *OSFileSystem) EnsureDirectory(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %q exists and is not a directory", ErrLocalIO, path)
		}
		return nil
	}
	if err := os.MkdirAll(path, f.DirMode); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrLocalIO, err)
	}
	return nil
}

func (f *OSFileSystem) OpenForWrite(path string) (io.WriteCloser, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.FileMode)
	if err != nil {
		return nil, fmt.Errorf("%w: open for write: %v", ErrLocalIO, err)
	}
	return file, nil
}

func (f *OSFileSystem) StatSize(path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: stat: %v", ErrLocalIO, err)
	}
	if !info.Mode().IsRegular() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}
