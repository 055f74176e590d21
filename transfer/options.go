package transfer

import "time"

const (
	// DefaultConcurrencyLimit bounds parallel file downloads per job.
	DefaultConcurrencyLimit = 4
	// DefaultMaxAttempts is how many times a file is tried before it is marked failed.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait before the first retry; later retries double it.
	DefaultBaseDelay = 500 * time.Millisecond
	// DefaultMaxDelay caps the retry backoff.
	DefaultMaxDelay = 30 * time.Second
	// DefaultChunkSize is the read buffer size in bytes.
	DefaultChunkSize = 256 * 1024
	// DefaultChunkTimeout fails a stream that delivers no chunk for this long.
	DefaultChunkTimeout = 30 * time.Second
	// DefaultSpeedWindow is the span the reported transfer speed averages over.
	DefaultSpeedWindow = 2 * time.Second
)

// Options are the per-job transfer policy parameters. Zero fields take the
// scheduler defaults.
type Options struct {
	ConcurrencyLimit int
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ChunkSize        int
	ChunkTimeout     time.Duration
	SpeedWindow      time.Duration
}

// DefaultOptions returns the built-in transfer policy.
func DefaultOptions() Options {
	return Options{
		ConcurrencyLimit: DefaultConcurrencyLimit,
		MaxAttempts:      DefaultMaxAttempts,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		ChunkSize:        DefaultChunkSize,
		ChunkTimeout:     DefaultChunkTimeout,
		SpeedWindow:      DefaultSpeedWindow,
	}
}

func (o Options) withDefaults(d Options) Options {
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = d.ConcurrencyLimit
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.ChunkTimeout <= 0 {
		o.ChunkTimeout = d.ChunkTimeout
	}
	if o.SpeedWindow <= 0 {
		o.SpeedWindow = d.SpeedWindow
	}
	return o
}
