package cryptonote

import (
	"sync"

	"git.gammaspectra.live/P2Pool/sha3"
	fasthex "github.com/tmthrgd/go-hex"
)

var keccakPool = sync.Pool{
	New: func() any {
		return sha3.NewLegacyKeccak256()
	},
}

// Keccak256 computes the CryptoNote "cn_fast_hash" of the input.
func Keccak256(data []byte) [HashSize]byte {
	h := keccakPool.Get().(*sha3.HasherState)
	defer keccakPool.Put(h)

	h.Reset()
	_, _ = h.Write(data)

	var out [HashSize]byte
	h.Sum(out[:0])
	return out
}

// BlockID derives the block identifier reported for candidates from the
// fully spliced blob.
func BlockID(blob []byte) string {
	id := Keccak256(blob)
	return fasthex.EncodeToString(id[:])
}
