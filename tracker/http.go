package tracker

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jackpal/bencode-go"

	"github.com/gorent/gorent/peer"
)

const httpAnnounceTimeout = 20 * time.Second

type bencodeTrackerResponse struct {
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// announceHTTP issues a GET against an HTTP(S) tracker with the standard
// announce query parameters, percent-encoding the binary info_hash and
// peer_id byte-for-byte.
func announceHTTP(rawURL string, req Request) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse tracker url: %w", err)
	}

	values := url.Values{
		"port":       []string{strconv.Itoa(int(req.Port))},
		"uploaded":   []string{strconv.FormatInt(req.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(req.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(req.Left, 10)},
		"compact":    []string{"1"},
	}
	u.RawQuery = values.Encode() +
		"&info_hash=" + percentEncode(req.InfoHash[:]) +
		"&peer_id=" + percentEncode(req.PeerID[:])

	client := &http.Client{Timeout: httpAnnounceTimeout}
	httpReq, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "gorent/1.0")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http announce: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http announce: status %d", resp.StatusCode)
	}

	var tr bencodeTrackerResponse
	if err := bencode.Unmarshal(resp.Body, &tr); err != nil {
		return nil, fmt.Errorf("decode tracker response: %w", err)
	}

	peers, err := peer.Unmarshal([]byte(tr.Peers))
	if err != nil {
		return nil, fmt.Errorf("decode peer list: %w", err)
	}
	return &Response{Interval: tr.Interval, Peers: peers}, nil
}

// percentEncode encodes b byte-for-byte as %XX, for binary query
// parameters that url.Values.Encode would otherwise mangle as UTF-8.
func percentEncode(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	const hex = "0123456789ABCDEF"
	for _, v := range b {
		out = append(out, '%', hex[v>>4], hex[v&0xF])
	}
	return string(out)
}
