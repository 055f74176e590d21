package models

import "time"

// PeerState is the registry lifecycle state of a discovered device.
type PeerState string

const (
	// PeerDiscovered means a beacon was heard but the peer has not served a listing yet.
	PeerDiscovered PeerState = "discovered"
	// PeerActive means the peer answered at least one listing request.
	PeerActive PeerState = "active"
	// PeerLost means the peer said goodbye or went silent past the liveness window.
	PeerLost PeerState = "lost"
)

// Peer represents a discoverable LAN endpoint offering a read-only file tree.
type Peer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Address     string    `json:"address"`
	Port        int       `json:"port"`
	State       PeerState `json:"state"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
