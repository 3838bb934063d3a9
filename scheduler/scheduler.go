// Package scheduler implements C5: the worker pools, piece and
// failed-piece queues, and peer-pool discipline that drive a whole
// torrent's download end to end.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorent/gorent/assembler"
	"github.com/gorent/gorent/internal/config"
	"github.com/gorent/gorent/internal/torrentlog"
	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/peer"
)

// Scheduler drives the download of every piece of a single torrent.
type Scheduler struct {
	info   *metainfo.Info
	peerID [20]byte
	cfg    config.Config
	log    *torrentlog.Logger

	peers       *peerDeque
	pieceQueue  chan int
	failedQueue chan int

	asm *assembler.Assembler

	completed int
	mu        sync.Mutex
}

// New constructs a Scheduler for info, ready to download into cfg.OutputDir
// once Run is called.
func New(info *metainfo.Info, peers []peer.Peer, peerID [20]byte, cfg config.Config, log *torrentlog.Logger) *Scheduler {
	return &Scheduler{
		info:        info,
		peerID:      peerID,
		cfg:         cfg,
		log:         log,
		peers:       newPeerDeque(peers),
		pieceQueue:  make(chan int, info.PieceCount()),
		failedQueue: make(chan int, info.PieceCount()),
		asm:         assembler.New(info, cfg.OutputDir),
	}
}

// Run downloads every piece and writes it to disk, blocking until the
// whole torrent is complete, the assembler has drained, and every worker
// has exited. Returns the elapsed time on success.
func (s *Scheduler) Run() (time.Duration, error) {
	start := time.Now()
	n := s.info.PieceCount()
	if n == 0 {
		return 0, fmt.Errorf("scheduler: torrent has no pieces")
	}
	if s.peers.len() == 0 {
		return 0, fmt.Errorf("scheduler: no peers available")
	}

	for i := 0; i < n; i++ {
		s.pieceQueue <- i
	}
	close(s.pieceQueue)

	go s.asm.Run()
	assembleErrDone := make(chan struct{})
	go func() {
		defer close(assembleErrDone)
		for err := range s.asm.Errors() {
			s.log.AssembleError(err)
		}
	}()

	var pending sync.WaitGroup
	pending.Add(n)

	var downloadWG, failureWG sync.WaitGroup
	for i := 0; i < s.cfg.DownloadWorkers; i++ {
		downloadWG.Add(1)
		go s.downloadWorker(i, &pending, &downloadWG)
	}
	for i := 0; i < s.cfg.FailureWorkers; i++ {
		failureWG.Add(1)
		go s.failureWorker(i, &pending, &failureWG)
	}

	go func() {
		pending.Wait()
		close(s.failedQueue)
	}()

	downloadWG.Wait()
	failureWG.Wait()

	s.asm.Close()
	<-s.asm.Done()
	<-assembleErrDone

	return time.Since(start), nil
}

// downloadWorker is the primary pool: it pops a piece, leases peers from
// the front of the deque up to max_retries times, and escalates to the
// failure queue when the budget is exhausted.
func (s *Scheduler) downloadWorker(id int, pending *sync.WaitGroup, wg *sync.WaitGroup) {
	defer wg.Done()
	tag := fmt.Sprintf("dl-%d", id)

	for pieceIndex := range s.pieceQueue {
		maxRetries := config.MaxPieceRetries(s.peers.len())
		if s.attempt(tag, pieceIndex, maxRetries, pending) {
			continue
		}
		s.log.PieceEscalated(pieceIndex)
		s.failedQueue <- pieceIndex
	}
}

// failureWorker is the safety-net pool: it sweeps a snapshot of the peer
// list sequentially for each escalated piece, re-queuing after a short
// backoff on total failure.
func (s *Scheduler) failureWorker(id int, pending *sync.WaitGroup, wg *sync.WaitGroup) {
	defer wg.Done()
	tag := fmt.Sprintf("fw-%d", id)

	for pieceIndex := range s.failedQueue {
		snapshot := s.peers.snapshot()
		if s.attemptAgainst(tag, pieceIndex, snapshot, pending) {
			continue
		}
		s.log.PieceGaveUp(pieceIndex)
		time.Sleep(s.cfg.FailureRequeueBackoff)
		s.failedQueue <- pieceIndex
	}
}

// attempt leases up to maxRetries peers from the front of the deque and
// tries each in turn. Returns true once the piece is downloaded and
// handed to the assembler.
func (s *Scheduler) attempt(tag string, pieceIndex, maxRetries int, pending *sync.WaitGroup) bool {
	for try := 0; try < maxRetries; try++ {
		p, ok := s.peers.popFront()
		if !ok {
			time.Sleep(s.cfg.PeerEmptyBackoff)
			try--
			continue
		}
		if s.downloadOne(tag, pieceIndex, p, pending) {
			return true
		}
		s.peers.pushBack(p)
	}
	return false
}

// attemptAgainst tries pieceIndex sequentially against every peer in
// snapshot, in order, without touching the live deque's pop/push
// discipline beyond the success path.
func (s *Scheduler) attemptAgainst(tag string, pieceIndex int, snapshot []peer.Peer, pending *sync.WaitGroup) bool {
	for _, p := range snapshot {
		if s.downloadOne(tag, pieceIndex, p, pending) {
			return true
		}
	}
	return false
}

// downloadOne runs a single (piece, peer) attempt through C3, on success
// submitting the verified bytes to the assembler and marking the piece
// done. On failure it returns false and leaves the peer out of the deque;
// attempt, which leased the peer, returns it to the back.
func (s *Scheduler) downloadOne(tag string, pieceIndex int, p peer.Peer, pending *sync.WaitGroup) bool {
	hash, err := s.info.PieceHash(pieceIndex)
	if err != nil {
		s.log.PieceFailed(tag, pieceIndex, p.String(), err)
		return false
	}
	length, err := s.info.PieceLengthAt(pieceIndex)
	if err != nil {
		s.log.PieceFailed(tag, pieceIndex, p.String(), err)
		return false
	}

	s.log.PieceStarted(tag, pieceIndex, p.String())
	data, err := peer.DownloadPiece(p, s.info.InfoHash, s.peerID, pieceIndex, hash, length)
	if err != nil {
		s.log.PieceFailed(tag, pieceIndex, p.String(), err)
		return false
	}

	s.peers.pushFront(p)
	s.asm.Submit(assembler.Task{PieceIndex: pieceIndex, Bytes: data})

	percent := s.markCompleted()
	s.log.PieceDownloaded(tag, pieceIndex, p.String(), percent)
	pending.Done()
	return true
}

func (s *Scheduler) markCompleted() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
	return float64(s.completed) / float64(s.info.PieceCount()) * 100
}
