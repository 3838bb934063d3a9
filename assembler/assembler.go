// Package assembler implements C4: the single-writer pipeline that places
// verified piece bytes into the correct byte range of one or many output
// files.
package assembler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gorent/gorent/metainfo"
)

// Task is a unit of work handed to the assembler once a piece's bytes have
// been verified against its hash.
type Task struct {
	PieceIndex int
	Bytes      []byte
}

// Assembler drains a queue of Tasks and writes each to disk at the byte
// range its piece index covers, per the torrent's file map. It is a
// single-writer: callers submit Tasks and the assembler processes them one
// at a time, so file writes never race each other.
type Assembler struct {
	info    *metainfo.Info
	baseDir string
	tasks   chan Task
	done    chan struct{}
	errs    chan error

	// fileEnds[i] is the cumulative end offset of info.FileMap[i], used for
	// the binary search over overlapping files.
	fileEnds []int64
}

// New creates an Assembler that writes info's content under baseDir. Call
// Run in its own goroutine to start draining, then Submit tasks and
// finally Close to signal no more are coming.
func New(info *metainfo.Info, baseDir string) *Assembler {
	ends := make([]int64, len(info.FileMap))
	for i, f := range info.FileMap {
		ends[i] = f.End
	}
	return &Assembler{
		info:     info,
		baseDir:  baseDir,
		tasks:    make(chan Task, 64),
		done:     make(chan struct{}),
		errs:     make(chan error, 64),
		fileEnds: ends,
	}
}

// Submit enqueues a verified piece for writing. Safe to call concurrently
// from multiple scheduler workers; blocks only if the internal queue is
// full.
func (a *Assembler) Submit(t Task) {
	a.tasks <- t
}

// Close signals that no further tasks will be submitted. Run returns once
// every already-queued task has been written.
func (a *Assembler) Close() {
	close(a.tasks)
}

// Errors returns the channel of per-task write failures. A failed write
// is logged by the caller and the piece is not retried by the assembler
// itself.
func (a *Assembler) Errors() <-chan error {
	return a.errs
}

// Done is closed once Run has drained every task following a Close.
func (a *Assembler) Done() <-chan struct{} {
	return a.done
}

// Run drains the task queue until Close is called and the queue empties.
// It is meant to run on a single long-lived goroutine; file I/O here may
// block, which is why the scheduler never calls write logic directly.
func (a *Assembler) Run() {
	defer close(a.done)
	for t := range a.tasks {
		if err := a.write(t); err != nil {
			a.errs <- fmt.Errorf("assembler: piece %d: %w", t.PieceIndex, err)
		}
	}
}

func (a *Assembler) write(t Task) error {
	begin, end, err := a.info.PieceBounds(t.PieceIndex)
	if err != nil {
		return err
	}
	if end-begin != int64(len(t.Bytes)) {
		return fmt.Errorf("piece %d: got %d bytes, want %d", t.PieceIndex, len(t.Bytes), end-begin)
	}

	if len(a.info.FileMap) == 1 {
		return a.writeSingleFile(a.info.FileMap[0], begin, t.Bytes)
	}
	return a.writeMultiFile(begin, end, t.Bytes)
}

// writeSingleFile covers the common case directly: one target file, seek
// to the piece's offset, write.
func (a *Assembler) writeSingleFile(entry metainfo.FileEntry, begin int64, data []byte) error {
	path := filepath.Join(a.baseDir, entry.Path)
	f, err := a.openAtLength(path, entry.Length)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(data, begin); err != nil {
		return fmt.Errorf("write %s at %d: %w", path, begin, err)
	}
	return nil
}

// writeMultiFile splits [begin, end) across every file_map entry it
// overlaps, driven by the piece's absolute byte range rather than a
// running counter of bytes written — a counter terminates early whenever
// the last piece is shorter than piece_length.
func (a *Assembler) writeMultiFile(begin, end int64, data []byte) error {
	firstIdx := sort.Search(len(a.fileEnds), func(i int) bool {
		return a.fileEnds[i] > begin
	})

	cursor := begin
	for idx := firstIdx; cursor < end; idx++ {
		if idx >= len(a.info.FileMap) {
			return fmt.Errorf("piece range [%d,%d) extends past end of file map", begin, end)
		}
		entry := a.info.FileMap[idx]

		overlapStart := cursor
		overlapEnd := end
		if entry.End < overlapEnd {
			overlapEnd = entry.End
		}
		if overlapStart < entry.Start {
			overlapStart = entry.Start
		}
		if overlapEnd <= overlapStart {
			continue
		}

		path := filepath.Join(a.baseDir, entry.Path)
		f, err := a.openAtLength(path, entry.Length)
		if err != nil {
			return err
		}

		chunk := data[overlapStart-begin : overlapEnd-begin]
		_, err = f.WriteAt(chunk, overlapStart-entry.Start)
		closeErr := f.Close()
		if err != nil {
			return fmt.Errorf("write %s at %d: %w", path, overlapStart-entry.Start, err)
		}
		if closeErr != nil {
			return fmt.Errorf("close %s: %w", path, closeErr)
		}

		cursor = overlapEnd
	}
	return nil
}

// openAtLength opens path for read/write, creating it (and its parent
// directories) and truncating it to length if it doesn't already exist at
// that size. Every output file reaches its declared length before its
// first write.
func (a *Assembler) openAtLength(path string, length int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() != length {
		if err := f.Truncate(length); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate %s to %d: %w", path, length, err)
		}
	}
	return f, nil
}
