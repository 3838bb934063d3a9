package scheduler

import (
	"sync"

	"github.com/gorent/gorent/peer"
)

// peerDeque is the shared mutable peer pool: an ordered double-ended
// queue mutated under a single mutex. The lock is held only across
// pop/push, never across a network call.
type peerDeque struct {
	mu    sync.Mutex
	peers []peer.Peer
}

func newPeerDeque(peers []peer.Peer) *peerDeque {
	cp := make([]peer.Peer, len(peers))
	copy(cp, peers)
	return &peerDeque{peers: cp}
}

// popFront removes and returns the most reputable peer, if any.
func (d *peerDeque) popFront() (peer.Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.peers) == 0 {
		return peer.Peer{}, false
	}
	p := d.peers[0]
	d.peers = d.peers[1:]
	return p, true
}

// pushFront returns a peer to the front of the deque: a reputation boost
// after a successful download.
func (d *peerDeque) pushFront(p peer.Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers = append([]peer.Peer{p}, d.peers...)
}

// pushBack returns a peer to the back of the deque, after a failed
// attempt.
func (d *peerDeque) pushBack(p peer.Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers = append(d.peers, p)
}

// snapshot returns a copy of the current peer order, for the failure
// worker's sequential sweep.
func (d *peerDeque) snapshot() []peer.Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]peer.Peer, len(d.peers))
	copy(cp, d.peers)
	return cp
}

func (d *peerDeque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}
