package pow

import (
	"bytes"
	"fmt"
	"sync"

	"ekyu.moe/cryptonight"
	"git.gammaspectra.live/P2Pool/go-randomx"
)

// ErrUnsupportedAlgo marks table entries whose hash function has no portable
// implementation; hashing under those algorithms returns this error.
var ErrUnsupportedAlgo = fmt.Errorf("no portable implementation for algorithm")

// cnMinBlobSize is required by the CryptoNight v1 tweak, which reads the
// 43rd byte of the input.
const cnMinBlobSize = 43

// randomxHasher wraps the pure-Go RandomX implementation. The cache and VM
// are rebuilt only when the seed key changes, which happens once per epoch.
type randomxHasher struct {
	lock  sync.Mutex
	cache *randomx.Randomx_Cache
	key   []byte
	vm    *randomx.VM
}

func newRandomXHasher() *randomxHasher {
	return &randomxHasher{
		cache: randomx.Randomx_alloc_cache(0),
	}
}

// rxSet keeps one initialized hasher per recent seed so the epoch switch
// does not stall every session behind a dataset rebuild. Two entries cover
// the current epoch and the pre-warmed next one.
type rxSet struct {
	lock    sync.Mutex
	hashers map[string]*randomxHasher
	order   []string
}

func newRXSet() *rxSet {
	return &rxSet{
		hashers: make(map[string]*randomxHasher, 2),
	}
}

func (s *rxSet) get(seed []byte) *randomxHasher {
	key := string(seed)

	s.lock.Lock()
	defer s.lock.Unlock()

	if h, ok := s.hashers[key]; ok {
		return h
	}

	h := newRandomXHasher()
	s.hashers[key] = h
	s.order = append(s.order, key)
	for len(s.order) > 2 {
		delete(s.hashers, s.order[0])
		s.order = s.order[1:]
	}
	return h
}

func (h *randomxHasher) hash(seed, input []byte) ([]byte, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.key == nil || !bytes.Equal(h.key, seed) {
		h.key = make([]byte, len(seed))
		copy(h.key, seed)

		h.cache.Randomx_init_cache(h.key)

		gen := randomx.Init_Blake2Generator(h.key, 0)
		for i := 0; i < 8; i++ {
			h.cache.Programs[i] = randomx.Build_SuperScalar_Program(gen)
		}
		h.vm = h.cache.VM_Initialize()
	}

	output := make([]byte, 32)
	h.vm.CalculateHash(input, output)
	return output, nil
}

// sum computes the proof-of-work hash of blob under algo. For seed-keyed
// algorithms the seed selects the dataset epoch.
func (p *Pool) sum(algo Algo, blob, seed []byte) ([]byte, error) {
	switch algo {
	case AlgoCNv0:
		return cryptonight.Sum(blob, 0), nil

	case AlgoCNv1:
		if len(blob) < cnMinBlobSize {
			return nil, fmt.Errorf("cn/1 requires at least %d bytes, got %d", cnMinBlobSize, len(blob))
		}
		return cryptonight.Sum(blob, 1), nil

	case AlgoCNv2:
		return cryptonight.Sum(blob, 2), nil

	case AlgoRandomX:
		if len(seed) == 0 {
			return nil, fmt.Errorf("rx/0 requires a seed hash")
		}
		return p.rx.get(seed).hash(seed, blob)

	case AlgoCNR, AlgoCNLite, AlgoCNHeavy:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, algo.WireName())

	default:
		return nil, fmt.Errorf("unknown algorithm %d", algo)
	}
}
