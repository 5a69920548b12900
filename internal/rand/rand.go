// Package rand generates short random identifiers for channel connections.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	mut sync.Mutex
	rng = newRNG()
)

func newRNG() *rand.Rand {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("unreachable")
	}
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}

// String returns a random identifier of length n drawn from a reduced
// base64 alphabet.
func String(n int) string {
	mut.Lock()
	defer mut.Unlock()

	out := make([]byte, n)
	for i := range out {
		out[i] = charset[rng.IntN(len(charset))]
	}
	return string(out)
}
