package router

import (
	"crypto/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// fingerprintSource mixes a monotonically increasing counter with a
// high-resolution timestamp and a small random suffix before hashing, so
// that request fingerprints are well distributed over the ring's slot space.
// A plain small integer passed through a weak hash clusters on a handful of
// slots and defeats load balancing; this construction avoids it.
type fingerprintSource struct {
	counter atomic.Uint64
}

func newFingerprintSource() *fingerprintSource {
	return &fingerprintSource{}
}

func (s *fingerprintSource) next() uint64 {
	c := s.counter.Add(1)

	var suffix [4]byte
	_, _ = rand.Read(suffix[:])

	buf := make([]byte, 0, 48)
	buf = strconv.AppendUint(buf, c, 10)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, time.Now().UnixNano(), 10)
	buf = append(buf, '-')
	buf = appendHex(buf, suffix[:])

	return xxhash.Sum64(buf)
}

func appendHex(dst, src []byte) []byte {
	const hexDigits = "0123456789abcdef"
	for _, b := range src {
		dst = append(dst, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return dst
}
