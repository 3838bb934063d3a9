package peer

import "math/rand"

// idPrefixes are the client identifiers this engine may announce; one is
// chosen at random per run, the way real clients announce a consistent
// but anonymous-looking identity.
var idPrefixes = []string{"-ZT6969-", "-UT3550-"}

// GenerateID returns a fresh 20-byte peer id: one of the recognized
// prefixes followed by 12 random ASCII digits.
func GenerateID() [20]byte {
	var id [20]byte
	prefix := idPrefixes[rand.Intn(len(idPrefixes))]
	copy(id[:], prefix)
	for i := len(prefix); i < 20; i++ {
		id[i] = byte('0' + rand.Intn(10))
	}
	return id
}
