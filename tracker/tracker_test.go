package tracker

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "infohashinfohashinfo")
	copy(peerID[:], "-GO0001-123456789012")
	return Request{
		InfoHash:   infoHash,
		PeerID:     peerID,
		Port:       6881,
		Left:       1000,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	}
}

// compactPeers builds a two-peer compact list: 192.168.0.1 and
// 192.168.0.2, both on port 6881 (0x1AE1).
func compactPeers() []byte {
	return []byte{
		192, 168, 0, 1, 0x1A, 0xE1,
		192, 168, 0, 2, 0x1A, 0xE1,
	}
}

func TestAnnounceHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("compact"))
		body := map[string]interface{}{
			"interval": 1800,
			"peers":    string(compactPeers()),
		}
		require.NoError(t, bencode.Marshal(w, body))
	}))
	defer srv.Close()

	resp, err := announceHTTP(srv.URL, testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1800, resp.Interval)
	require.Len(t, resp.Peers, 2)
	assert.Equal(t, "192.168.0.1:6881", resp.Peers[0].String())
	assert.Equal(t, "192.168.0.2:6881", resp.Peers[1].String())
}

func TestAnnounceHTTPRejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := announceHTTP(srv.URL, testRequest())
	assert.Error(t, err)
}

func fakeUDPTracker(t *testing.T, handle func(conn *net.UDPConn, addr *net.UDPAddr, buf []byte)) (string, func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			handle(conn, addr, buf[:n])
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	url := fmt.Sprintf("udp://127.0.0.1:%d", addr.Port)
	return url, func() {
		conn.Close()
		<-done
	}
}

func TestAnnounceUDPSuccess(t *testing.T) {
	url, stop := fakeUDPTracker(t, func(conn *net.UDPConn, addr *net.UDPAddr, buf []byte) {
		action := binary.BigEndian.Uint32(buf[8:12])
		txID := buf[12:16]
		switch action {
		case actionConnect:
			resp := make([]byte, 16)
			binary.BigEndian.PutUint32(resp[0:4], actionConnect)
			copy(resp[4:8], txID)
			binary.BigEndian.PutUint64(resp[8:16], 0xAABBCCDD)
			conn.WriteToUDP(resp, addr)
		case actionAnnounce:
			peers := compactPeers()
			resp := make([]byte, 20+len(peers))
			binary.BigEndian.PutUint32(resp[0:4], actionAnnounce)
			copy(resp[4:8], txID)
			binary.BigEndian.PutUint32(resp[8:12], 1800)
			binary.BigEndian.PutUint32(resp[12:16], 0) // leechers
			binary.BigEndian.PutUint32(resp[16:20], 0) // seeders
			copy(resp[20:], peers)
			conn.WriteToUDP(resp, addr)
		}
	})
	defer stop()

	resp, err := announceUDP(url, testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1800, resp.Interval)
	require.Len(t, resp.Peers, 2)
	assert.Equal(t, "192.168.0.1:6881", resp.Peers[0].String())
}

func TestAnnounceUDPTrackerError(t *testing.T) {
	url, stop := fakeUDPTracker(t, func(conn *net.UDPConn, addr *net.UDPAddr, buf []byte) {
		action := binary.BigEndian.Uint32(buf[8:12])
		txID := buf[12:16]
		switch action {
		case actionConnect:
			resp := make([]byte, 16)
			binary.BigEndian.PutUint32(resp[0:4], actionConnect)
			copy(resp[4:8], txID)
			binary.BigEndian.PutUint64(resp[8:16], 1)
			conn.WriteToUDP(resp, addr)
		case actionAnnounce:
			msg := []byte("banned")
			resp := make([]byte, 8+len(msg))
			binary.BigEndian.PutUint32(resp[0:4], actionError)
			copy(resp[4:8], txID)
			copy(resp[8:], msg)
			conn.WriteToUDP(resp, addr)
		}
	})
	defer stop()

	_, err := announceUDP(url, testRequest())
	assert.Error(t, err)
}

// TestAnnounceFailoverToSecondTracker covers cross-tracker failover: the
// first tracker URL is unreachable, the second responds with the
// compact peer list for 192.168.0.1 and 192.168.0.2.
func TestAnnounceFailoverToSecondTracker(t *testing.T) {
	// First URL: nothing listening, so the HTTP client fails fast.
	deadListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := deadListener.Addr().String()
	deadListener.Close() // closed immediately: connection refused on announce

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"interval": 900,
			"peers":    string(compactPeers()),
		}
		require.NoError(t, bencode.Marshal(w, body))
	}))
	defer srv.Close()

	req := testRequest()
	req.MaxRetries = 1
	resp, err := Announce([]string{"http://" + deadAddr, srv.URL}, req)
	require.NoError(t, err)
	assert.Equal(t, 900, resp.Interval)
	require.Len(t, resp.Peers, 2)
	assert.Equal(t, "192.168.0.1:6881", resp.Peers[0].String())
	assert.Equal(t, "192.168.0.2:6881", resp.Peers[1].String())
}

func TestAnnounceAllTrackersFail(t *testing.T) {
	deadListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := deadListener.Addr().String()
	deadListener.Close()

	req := testRequest()
	req.MaxRetries = 1
	req.RetryDelay = time.Millisecond
	_, err = Announce([]string{"http://" + deadAddr}, req)
	assert.Error(t, err)
}

func TestAnnounceRejectsEmptyURLList(t *testing.T) {
	_, err := Announce(nil, testRequest())
	assert.Error(t, err)
}

func TestIsUDP(t *testing.T) {
	assert.True(t, isUDP("udp://tracker.example:80"))
	assert.False(t, isUDP("http://tracker.example"))
	assert.False(t, isUDP("https://tracker.example"))
}
