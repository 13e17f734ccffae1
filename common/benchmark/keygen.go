package benchmark

import (
	"math"
	mrand "math/rand"
	"sync/atomic"
)

// KeyDistribution defines how keys are accessed.
type KeyDistribution string

const (
	DistUniform    KeyDistribution = "uniform"    // all keys equally likely
	DistZipfian    KeyDistribution = "zipfian"    // 80/20 rule (realistic)
	DistSequential KeyDistribution = "sequential" // sequential access
	DistLatest     KeyDistribution = "latest"     // recent keys (time-series)
)

// KeyGenerator produces primary-key values for Query.Insert/Select
// according to a distribution, the numeric analog of the teacher's
// byte-key KeyGenerator (it generated string keys for a KV engine; this
// spec's keys are the int64 primary-key column instead).
type KeyGenerator struct {
	numKeys      int
	distribution KeyDistribution
	rng          *mrand.Rand

	zipf *mrand.Zipf

	seqCounter atomic.Int64
}

func NewKeyGenerator(numKeys int, distribution KeyDistribution, seed int64) *KeyGenerator {
	rng := mrand.New(mrand.NewSource(seed))
	kg := &KeyGenerator{numKeys: numKeys, distribution: distribution, rng: rng}
	if distribution == DistZipfian {
		kg.zipf = mrand.NewZipf(rng, 1.1, 1, uint64(numKeys-1))
	}
	return kg
}

// NextKey returns the next key to access under the configured
// distribution, in [0, numKeys).
func (kg *KeyGenerator) NextKey() int64 {
	switch kg.distribution {
	case DistUniform:
		return int64(kg.rng.Intn(kg.numKeys))
	case DistZipfian:
		return int64(kg.zipf.Uint64())
	case DistSequential:
		return kg.seqCounter.Add(1) % int64(kg.numKeys)
	case DistLatest:
		window := kg.numKeys / 10
		if window < 100 {
			window = 100
		}
		offset := int(math.Abs(kg.rng.NormFloat64()) * float64(window))
		keyNum := kg.numKeys - 1 - offset
		if keyNum < 0 {
			keyNum = 0
		}
		return int64(keyNum)
	default:
		return int64(kg.rng.Intn(kg.numKeys))
	}
}

// GenerateSequential returns the key for position n, used while preloading.
func (kg *KeyGenerator) GenerateSequential(n int) int64 {
	return int64(n)
}
