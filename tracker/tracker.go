// Package tracker implements the peer-discovery client (C2): announcing to
// HTTP(S) and UDP trackers with per-tracker retry and cross-tracker
// failover.
package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/gorent/gorent/peer"
)

// Response is the result of a successful announce.
type Response struct {
	Interval int
	Peers    []peer.Peer
}

// Request carries everything a tracker needs to answer an announce, beyond
// the announce URL itself.
type Request struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	MaxRetries int
	RetryDelay time.Duration
}

// Announce tries each tracker URL in order; for each it attempts up to
// req.MaxRetries times and returns on the first success. The wait between
// attempts is an exponential backoff that starts near req.RetryDelay and
// grows by 1.5x per attempt (see announceOneTracker); it is not a fixed
// req.RetryDelay. If every tracker is exhausted, it returns the last error
// seen.
func Announce(urls []string, req Request) (*Response, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("tracker: no announce URLs")
	}

	var lastErr error
	for _, url := range urls {
		resp, err := announceOneTracker(url, req)
		if err == nil {
			return resp, nil
		}
		lastErr = fmt.Errorf("tracker %s: %w", url, err)
	}
	return nil, fmt.Errorf("tracker: all trackers failed, last error: %w", lastErr)
}

// announceOneTracker retries a single tracker up to req.MaxRetries times.
// The wait between attempts is bounded by an exponential backoff seeded at
// req.RetryDelay, rather than a flat sleep, so a slow tracker doesn't eat
// the whole attempt budget waiting at a fixed interval.
func announceOneTracker(url string, req Request) (*Response, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	wait := &backoff.ExponentialBackOff{
		InitialInterval:     req.RetryDelay,
		RandomizationFactor: 0.1,
		Multiplier:          1.5,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      0, // bounded by maxRetries, not elapsed time
		Clock:               backoff.SystemClock,
	}
	wait.Reset()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(wait.NextBackOff())
		}

		var resp *Response
		var err error
		if isUDP(url) {
			resp, err = announceUDP(url, req)
		} else {
			resp, err = announceHTTP(url, req)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func isUDP(url string) bool {
	return strings.HasPrefix(url, "udp://")
}
