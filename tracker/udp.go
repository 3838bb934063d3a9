package tracker

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/gorent/gorent/peer"
)

const (
	udpProtocolMagic = 0x41727101980
	udpPhaseTimeout  = 5 * time.Second

	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3
)

// announceUDP performs the two-phase UDP tracker protocol: a connect
// handshake followed by an announce.
func announceUDP(rawURL string, req Request) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse tracker url: %w", err)
	}

	conn, err := net.Dial("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	defer conn.Close()

	connectionID, err := udpConnect(conn)
	if err != nil {
		return nil, fmt.Errorf("udp connect: %w", err)
	}

	return udpAnnounce(conn, connectionID, req)
}

func udpConnect(conn net.Conn) (uint64, error) {
	transactionID := rand.Uint32()

	packet := make([]byte, 16)
	binary.BigEndian.PutUint64(packet[0:8], udpProtocolMagic)
	binary.BigEndian.PutUint32(packet[8:12], actionConnect)
	binary.BigEndian.PutUint32(packet[12:16], transactionID)

	conn.SetDeadline(time.Now().Add(udpPhaseTimeout))
	if _, err := conn.Write(packet); err != nil {
		return 0, fmt.Errorf("write connect request: %w", err)
	}

	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return 0, fmt.Errorf("read connect response: %w", err)
	}
	if n < 16 {
		return 0, fmt.Errorf("connect response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	gotTransactionID := binary.BigEndian.Uint32(resp[4:8])
	if gotTransactionID != transactionID {
		return 0, fmt.Errorf("transaction id mismatch: got %d want %d", gotTransactionID, transactionID)
	}
	if action != actionConnect {
		return 0, fmt.Errorf("unexpected action %d, want connect", action)
	}

	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func udpAnnounce(conn net.Conn, connectionID uint64, req Request) (*Response, error) {
	transactionID := rand.Uint32()
	key := rand.Uint32()

	packet := make([]byte, 98)
	binary.BigEndian.PutUint64(packet[0:8], connectionID)
	binary.BigEndian.PutUint32(packet[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(packet[12:16], transactionID)
	copy(packet[16:36], req.InfoHash[:])
	copy(packet[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(packet[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(packet[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(packet[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(packet[80:84], 0) // event: none
	binary.BigEndian.PutUint32(packet[84:88], 0) // ip: default
	binary.BigEndian.PutUint32(packet[88:92], key)
	binary.BigEndian.PutUint32(packet[92:96], 0xFFFFFFFF) // num_want: -1
	binary.BigEndian.PutUint16(packet[96:98], req.Port)

	conn.SetDeadline(time.Now().Add(udpPhaseTimeout))
	if _, err := conn.Write(packet); err != nil {
		return nil, fmt.Errorf("write announce request: %w", err)
	}

	resp := make([]byte, 2048)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("read announce response: %w", err)
	}
	if n < 20 {
		return nil, fmt.Errorf("announce response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	gotTransactionID := binary.BigEndian.Uint32(resp[4:8])
	if gotTransactionID != transactionID {
		return nil, fmt.Errorf("transaction id mismatch: got %d want %d", gotTransactionID, transactionID)
	}
	if action == actionError {
		return nil, fmt.Errorf("tracker error: %s", string(resp[8:n]))
	}
	if action != actionAnnounce {
		return nil, fmt.Errorf("unexpected action %d, want announce", action)
	}

	interval := int(binary.BigEndian.Uint32(resp[8:12]))
	peers, err := peer.Unmarshal(resp[20:n])
	if err != nil {
		return nil, fmt.Errorf("decode peer list: %w", err)
	}
	return &Response{Interval: interval, Peers: peers}, nil
}
