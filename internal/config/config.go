// Package config holds the engine's run-time configuration as an explicit
// object threaded through the scheduler and assembler at construction,
// rather than as process-wide globals (output directory, worker counts,
// timeouts, listen port).
package config

import "time"

// Config carries every tunable the scheduler and assembler need.
type Config struct {
	// OutputDir is the directory files are written under.
	OutputDir string

	// DownloadWorkers is W1, the primary download pool size.
	DownloadWorkers int

	// FailureWorkers is W2, the failed-piece retry pool size.
	FailureWorkers int

	// PeerEmptyBackoff is how long a download worker sleeps when the peer
	// deque is momentarily empty before retrying.
	PeerEmptyBackoff time.Duration

	// FailureRequeueBackoff is the short delay before a piece that
	// exhausted a failure-queue pass is re-enqueued.
	FailureRequeueBackoff time.Duration

	// TrackerMaxRetries and TrackerRetryDelay bound C2's per-tracker
	// attempts.
	TrackerMaxRetries int
	TrackerRetryDelay time.Duration

	// ListenPort is advertised to trackers as our listening port. This
	// engine never actually listens (leecher-only), but trackers still
	// expect a plausible value in [6881, 6889]. Left unset by Default;
	// callers pick one randomly per run, not a single fixed constant.
	ListenPort uint16

	Verbose bool
}

// Default returns the engine's baseline configuration.
func Default() Config {
	return Config{
		OutputDir:             ".",
		DownloadWorkers:       20,
		FailureWorkers:        20,
		PeerEmptyBackoff:      500 * time.Millisecond,
		FailureRequeueBackoff: time.Second,
		TrackerMaxRetries:     3,
		TrackerRetryDelay:     2 * time.Second,
		Verbose:               false,
	}
}

// MaxPieceRetries returns min(ceil(numPeers/2), 10), never less than 1, the
// per-piece retry budget on the primary download pool.
func MaxPieceRetries(numPeers int) int {
	if numPeers <= 0 {
		return 1
	}
	retries := (numPeers + 1) / 2
	if retries > 10 {
		retries = 10
	}
	if retries < 1 {
		retries = 1
	}
	return retries
}
