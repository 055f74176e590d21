package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"lanpull/discovery"
	"lanpull/models"
)

const (
	// DefaultLivenessWindow is how long a peer may stay silent before it is lost.
	DefaultLivenessWindow = 30 * time.Second
	// DefaultRemovalGrace is how long a lost peer is kept before deletion.
	DefaultRemovalGrace = 120 * time.Second
	// DefaultTickInterval drives liveness checks in Run.
	DefaultTickInterval = time.Second
)

var (
	// ErrUnknownPeer is returned for IDs the registry does not hold.
	ErrUnknownPeer = errors.New("registry: unknown peer")
	// ErrAmbiguousPeer is returned when a display name matches several peers.
	ErrAmbiguousPeer = errors.New("registry: ambiguous peer name")
)

// Config controls liveness policy.
type Config struct {
	LivenessWindow time.Duration
	// RemovalGrace is raised to LivenessWindow when smaller.
	RemovalGrace time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	out := c
	if out.LivenessWindow <= 0 {
		out.LivenessWindow = DefaultLivenessWindow
	}
	if out.RemovalGrace <= 0 {
		out.RemovalGrace = DefaultRemovalGrace
	}
	if out.RemovalGrace < out.LivenessWindow {
		out.RemovalGrace = out.LivenessWindow
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return out
}

type entry struct {
	peer   models.Peer
	lostAt time.Time
}

// Registry is the authoritative set of known peers. All methods are safe for
// concurrent use and never block on I/O.
type Registry struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	peers map[string]*entry
	refs  map[string]int
}

// New returns an empty registry.
func New(config Config) *Registry {
	cfg := config.withDefaults()
	return &Registry{
		cfg:   cfg,
		log:   cfg.Logger,
		peers: make(map[string]*entry),
		refs:  make(map[string]int),
	}
}

// LivenessWindow returns the effective silence limit.
func (r *Registry) LivenessWindow() time.Duration { return r.cfg.LivenessWindow }

// RemovalGrace returns the effective grace period for lost peers.
func (r *Registry) RemovalGrace() time.Duration { return r.cfg.RemovalGrace }

// OnPeerFound records a sighting. A lost peer that is seen again becomes discovered.
func (r *Registry) OnPeerFound(id, displayName, address string, port int) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	now := r.cfg.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[id]
	if !ok {
		if displayName == "" {
			displayName = id
		}
		r.peers[id] = &entry{peer: models.Peer{
			ID:          id,
			DisplayName: displayName,
			Address:     address,
			Port:        port,
			State:       models.PeerDiscovered,
			LastSeenAt:  now,
		}}
		r.log.Info("peer discovered", "peer", id, "name", displayName, "address", address, "port", port)
		return
	}

	e.peer.LastSeenAt = now
	if displayName != "" {
		e.peer.DisplayName = displayName
	}
	if address != "" {
		e.peer.Address = address
	}
	if port > 0 {
		e.peer.Port = port
	}
	if e.peer.State == models.PeerLost {
		e.peer.State = models.PeerDiscovered
		e.lostAt = time.Time{}
		r.log.Info("peer rediscovered", "peer", id)
	}
}

// OnPeerLost marks a peer lost on an explicit goodbye.
func (r *Registry) OnPeerLost(id string) {
	now := r.cfg.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[id]
	if !ok || e.peer.State == models.PeerLost {
		return
	}
	e.peer.State = models.PeerLost
	e.lostAt = now
	r.log.Info("peer said goodbye", "peer", id)
}

// Confirm promotes a discovered peer to active after it served a listing.
func (r *Registry) Confirm(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[id]
	if !ok || e.peer.State != models.PeerDiscovered {
		return
	}
	e.peer.State = models.PeerActive
	r.log.Debug("peer confirmed", "peer", id)
}

// Tick applies the liveness rules at now. Silent peers become lost; peers lost
// past the grace period are deleted unless a job still references them.
func (r *Registry) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.peers {
		switch e.peer.State {
		case models.PeerDiscovered, models.PeerActive:
			if now.Sub(e.peer.LastSeenAt) > r.cfg.LivenessWindow {
				e.peer.State = models.PeerLost
				e.lostAt = now
				r.log.Info("peer went silent", "peer", id, "last_seen", e.peer.LastSeenAt)
			}
		case models.PeerLost:
			if now.Sub(e.lostAt) > r.cfg.RemovalGrace && r.refs[id] == 0 {
				delete(r.peers, id)
				r.log.Debug("peer removed", "peer", id)
			}
		}
	}
}

// Snapshot returns every known peer ordered by display name, then ID.
func (r *Registry) Snapshot() []models.Peer {
	r.mu.Lock()
	out := make([]models.Peer, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.peer)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].ID < out[j].ID
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// Lookup returns the peer with the given ID.
func (r *Registry) Lookup(id string) (models.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[id]
	if !ok {
		return models.Peer{}, false
	}
	return e.peer, true
}

// Resolve finds a peer by exact ID, then by case-insensitive display name.
func (r *Registry) Resolve(idOrName string) (models.Peer, error) {
	if peer, ok := r.Lookup(idOrName); ok {
		return peer, nil
	}

	var matches []models.Peer
	for _, peer := range r.Snapshot() {
		if strings.EqualFold(peer.DisplayName, idOrName) {
			matches = append(matches, peer)
		}
	}
	switch len(matches) {
	case 0:
		return models.Peer{}, fmt.Errorf("%w: %s", ErrUnknownPeer, idOrName)
	case 1:
		return matches[0], nil
	default:
		return models.Peer{}, fmt.Errorf("%w: %q matches %d peers", ErrAmbiguousPeer, idOrName, len(matches))
	}
}

// Acquire pins a peer for the duration of a job so it is never deleted under it.
func (r *Registry) Acquire(id string) (models.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[id]
	if !ok {
		return models.Peer{}, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	r.refs[id]++
	return e.peer, nil
}

// Release drops a reference taken by Acquire.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs[id] <= 1 {
		delete(r.refs, id)
		return
	}
	r.refs[id]--
}

// Apply feeds one discovery event into the registry.
func (r *Registry) Apply(event discovery.Event) {
	switch event.Type {
	case discovery.EventPeerFound:
		r.OnPeerFound(event.Peer.DeviceID, event.Peer.DeviceName, event.Peer.PreferredAddress(), event.Peer.Port)
	case discovery.EventPeerLost:
		r.OnPeerLost(event.Peer.DeviceID)
	}
}

// Run consumes events and drives Tick until ctx ends or events is closed.
func (r *Registry) Run(ctx context.Context, events <-chan discovery.Event, tickInterval time.Duration) {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.Apply(event)
		case <-ticker.C:
			r.Tick(r.cfg.Now())
		}
	}
}
