package peer

import (
	"encoding/binary"
	"fmt"
	"io"
)

type messageID uint8

const (
	msgChoke         messageID = 0
	msgUnchoke       messageID = 1
	msgInterested    messageID = 2
	msgNotInterested messageID = 3
	msgHave          messageID = 4
	msgBitfield      messageID = 5
	msgRequest       messageID = 6
	msgPiece         messageID = 7
	msgCancel        messageID = 8
)

// maxMessageLength bounds a single frame's length prefix: a 16 KiB block
// plus the 9-byte piece-message header, with headroom. Anything larger is
// treated as a protocol violation rather than an allocation to honor.
const maxMessageLength = 1<<20 + 9

// message is one length-prefixed frame of the post-handshake wire
// protocol: <len(4)><id(1)><payload>.
type message struct {
	id      messageID
	payload []byte
}

func (m *message) serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.id)
	copy(buf[5:], m.payload)
	return buf
}

// readMessage reads one frame from r. A zero-length frame is a keep-alive
// and is returned as (nil, nil).
func readMessage(r io.Reader) (*message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}
	if length > maxMessageLength {
		return nil, fmt.Errorf("peer: message length %d exceeds maximum %d", length, maxMessageLength)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &message{id: messageID(buf[0]), payload: buf[1:]}, nil
}

func formatHave(index int) *message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &message{id: msgHave, payload: payload}
}

func formatRequest(index, begin, length int) *message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &message{id: msgRequest, payload: payload}
}

func parseHave(m *message) (int, error) {
	if m.id != msgHave {
		return 0, fmt.Errorf("peer: expected have, got id %d", m.id)
	}
	if len(m.payload) != 4 {
		return 0, fmt.Errorf("peer: have payload length %d, want 4", len(m.payload))
	}
	return int(binary.BigEndian.Uint32(m.payload)), nil
}

// parsePiece validates a piece message against the active piece index and
// returns its block offset and data.
func parsePiece(activeIndex int, m *message) (offset int, data []byte, err error) {
	if m.id != msgPiece {
		return 0, nil, fmt.Errorf("peer: expected piece, got id %d", m.id)
	}
	if len(m.payload) < 8 {
		return 0, nil, fmt.Errorf("peer: piece payload length %d < 8", len(m.payload))
	}
	index := int(binary.BigEndian.Uint32(m.payload[0:4]))
	if index != activeIndex {
		return 0, nil, fmt.Errorf("peer: piece index %d does not match active %d", index, activeIndex)
	}
	offset = int(binary.BigEndian.Uint32(m.payload[4:8]))
	return offset, m.payload[8:], nil
}
