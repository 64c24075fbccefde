package raft

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
	"time"
)

// electionRand is a per-node source of randomness for election timeouts.
// The teacher's raft/util.go drew randomInt straight from crypto/rand on
// every call, which cannot be seeded and so cannot reproduce a scenario
// across test runs. spec DESIGN NOTES require a per-node, seedable RNG
// ("must use a per-node RNG to avoid correlated ties in simulated tests;
// seedability is a testability requirement"), so this wraps math/rand
// instead, seeded once at construction.
type electionRand struct {
	r *mathrand.Rand
}

func newElectionRand(seed int64) *electionRand {
	if seed == 0 {
		seed = systemSeed()
	}
	return &electionRand{r: mathrand.New(mathrand.NewSource(seed))}
}

func systemSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// electionTimeout draws a randomized timeout uniformly from
// [minMs, maxMs] milliseconds.
func (e *electionRand) electionTimeout(minMs, maxMs int) time.Duration {
	if minMs >= maxMs {
		return time.Duration(minMs) * time.Millisecond
	}
	span := maxMs - minMs
	return time.Duration(minMs+e.r.Intn(span+1)) * time.Millisecond
}
