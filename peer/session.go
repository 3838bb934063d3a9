package peer

import (
	"crypto/sha1"
	"fmt"
	"net"
	"sort"
	"time"
)

// BlockSize is the fixed request granularity at the wire level (16 KiB).
const BlockSize = 16 * 1024

const (
	connectTimeout    = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	negotiateBudget   = 15 * time.Second
	negotiateReadStep = 10 * time.Second
	blockReadTimeout  = 10 * time.Second
)

// Session owns a single peer connection for the lifetime of one
// (piece, peer) download attempt. It is created per attempt and closed on
// every exit path, success or failure.
type Session struct {
	conn     net.Conn
	peer     Peer
	peerID   [20]byte
	infoHash [20]byte
	choked   bool
	bitfield Bitfield
	closed   bool
}

// DownloadPiece runs the full Connecting -> Handshaking -> Negotiating ->
// Requesting -> Receiving -> Verifying -> Closing state machine for one
// piece against one peer. It returns the verified piece bytes, or an error
// for any terminal failure; the caller treats every error identically
// ("no piece") and decides retry policy.
func DownloadPiece(p Peer, infoHash, peerID [20]byte, pieceIndex int, pieceHash [20]byte, actualLength int64) ([]byte, error) {
	s, err := connect(p, infoHash, peerID)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.negotiate(pieceIndex); err != nil {
		return nil, err
	}

	buf, err := s.requestAndReceive(pieceIndex, actualLength)
	if err != nil {
		return nil, err
	}

	if err := verify(buf, pieceHash); err != nil {
		return nil, err
	}
	return buf, nil
}

// connect performs Connecting and Handshaking.
func connect(p Peer, infoHash, peerID [20]byte) (*Session, error) {
	conn, err := net.DialTimeout("tcp", p.String(), connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("peer: connect %s: %w", p, err)
	}

	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	req := &handshake{infoHash: infoHash, peerID: peerID}
	if _, err := conn.Write(req.serialize()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer: send handshake: %w", err)
	}
	resp, err := readHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := verifyHandshake(resp, infoHash); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	return &Session{conn: conn, peer: p, peerID: peerID, infoHash: infoHash, choked: true}, nil
}

// negotiate performs Negotiating: sends interested, then reads messages
// until unchoke arrives, tracking bitfield/have updates. It is terminal as
// soon as any update (bitfield, have, or unchoke) shows the peer lacks
// pieceIndex, or if the peer never unchokes within budget.
func (s *Session) negotiate(pieceIndex int) error {
	interested := &message{id: msgInterested}
	if _, err := s.conn.Write(interested.serialize()); err != nil {
		return fmt.Errorf("peer: send interested: %w", err)
	}

	deadline := time.Now().Add(negotiateBudget)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("peer: negotiate budget exceeded waiting for unchoke")
		}
		step := negotiateReadStep
		if remaining < step {
			step = remaining
		}
		s.conn.SetReadDeadline(time.Now().Add(step))

		m, err := readMessage(s.conn)
		if err != nil {
			return fmt.Errorf("peer: negotiate read: %w", err)
		}
		if m == nil {
			continue // keep-alive
		}

		switch m.id {
		case msgChoke:
			s.choked = true
		case msgUnchoke:
			s.choked = false
			if !s.bitfield.Has(pieceIndex) {
				return fmt.Errorf("peer: peer does not have piece %d", pieceIndex)
			}
			s.conn.SetReadDeadline(time.Time{})
			return nil
		case msgBitfield:
			s.bitfield = Bitfield(append([]byte(nil), m.payload...))
			if !s.bitfield.Has(pieceIndex) {
				return fmt.Errorf("peer: peer does not have piece %d", pieceIndex)
			}
		case msgHave:
			index, err := parseHave(m)
			if err != nil {
				return err
			}
			s.bitfield.Set(index)
			if !s.bitfield.Has(pieceIndex) {
				return fmt.Errorf("peer: peer does not have piece %d", pieceIndex)
			}
		default:
			// unknown id: payload already fully read and discarded.
		}
	}
}

// requestAndReceive performs Requesting and Receiving: pipelines all block
// requests for the piece, then reads piece messages until every block has
// arrived.
func (s *Session) requestAndReceive(pieceIndex int, actualLength int64) ([]byte, error) {
	total := int(actualLength)

	for offset := 0; offset < total; offset += BlockSize {
		length := BlockSize
		if total-offset < length {
			length = total - offset
		}
		req := formatRequest(pieceIndex, offset, length)
		if _, err := s.conn.Write(req.serialize()); err != nil {
			return nil, fmt.Errorf("peer: send request at offset %d: %w", offset, err)
		}
	}

	blocks := make(map[int][]byte)
	received := 0
	for received < total {
		s.conn.SetReadDeadline(time.Now().Add(blockReadTimeout))
		m, err := readMessage(s.conn)
		if err != nil {
			return nil, fmt.Errorf("peer: receive block: %w", err)
		}
		if m == nil {
			continue
		}
		if m.id != msgPiece {
			continue
		}
		offset, data, err := parsePiece(pieceIndex, m)
		if err != nil {
			return nil, err
		}
		// Last-write-wins under duplicate delivery; offsets are unique by
		// construction so this only matters for retransmits.
		if old, dup := blocks[offset]; dup {
			received -= len(old)
		}
		blocks[offset] = data
		received += len(data)
	}
	s.conn.SetReadDeadline(time.Time{})

	return reassemble(blocks, total), nil
}

// reassemble concatenates blocks in ascending offset order.
func reassemble(blocks map[int][]byte, total int) []byte {
	offsets := make([]int, 0, len(blocks))
	for off := range blocks {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	buf := make([]byte, total)
	for _, off := range offsets {
		copy(buf[off:], blocks[off])
	}
	return buf
}

func verify(buf []byte, want [20]byte) error {
	got := sha1.Sum(buf)
	if got != want {
		return fmt.Errorf("peer: piece hash mismatch: got %x want %x", got, want)
	}
	return nil
}

// Close closes the underlying socket. It is idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Close()
}
