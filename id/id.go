// Package id issues ULID tickets. ULIDs sort by the time they are stamped
// with, so tickets stamped with simulated time sort in opening order.
package id

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator hands out monotonic ULIDs from its own entropy stream. Two
// generators built with the same non-zero seed and fed the same timestamps
// return the same sequence.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator seeds the entropy stream; zero picks a random seed.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
	}
	return &Generator{entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// At returns a ULID stamped with t.
func (g *Generator) At(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(t.UTC()), g.entropy)
	if err != nil {
		// t before the unix epoch or entropy overflow within one millisecond
		panic(err)
	}
	return u.String()
}

// Time extracts the timestamp a ULID string was stamped with.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}
