package models

// RemoteEntry is one item of a remote directory listing.
//
// Path is slash separated and relative to the root the listing was requested for.
// Size is only meaningful for files.
type RemoteEntry struct {
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	Size        int64  `json:"size"`
}
