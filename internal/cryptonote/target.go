package cryptonote

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	fasthex "github.com/tmthrgd/go-hex"
)

// HashSize is the width of a CryptoNote PoW hash.
const HashSize = 32

// EncodeCompactTarget renders a difficulty as the legacy 4-byte stratum
// target: little-endian floor(2^32-1 / difficulty). Miners compare the top
// 4 bytes of the hash against it.
func EncodeCompactTarget(difficulty uint64) (string, error) {
	if difficulty == 0 {
		return "", fmt.Errorf("difficulty must be positive")
	}

	t := uint32(math.MaxUint32 / difficulty)
	if difficulty > math.MaxUint32 {
		// Difficulty beyond the compact range floors to zero, which no
		// hash can satisfy; callers should use the wide form instead.
		t = 0
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], t)
	return fasthex.EncodeToString(buf[:]), nil
}

// EncodeWideTarget renders a difficulty as the 8-byte stratum target used by
// RandomX-era miners: little-endian floor(2^64-1 / difficulty).
func EncodeWideTarget(difficulty uint64) (string, error) {
	if difficulty == 0 {
		return "", fmt.Errorf("difficulty must be positive")
	}

	t := math.MaxUint64 / difficulty

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], t)
	return fasthex.EncodeToString(buf[:]), nil
}

// hashToInt interprets a PoW hash as a 256-bit little-endian integer.
func hashToInt(hash []byte) (*uint256.Int, error) {
	if len(hash) != HashSize {
		return nil, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(hash))
	}

	var be [HashSize]byte
	for i := 0; i < HashSize; i++ {
		be[i] = hash[HashSize-1-i]
	}
	return new(uint256.Int).SetBytes(be[:]), nil
}

// DifficultyFromHash computes floor((2^256-1) / H) where H is the hash read
// as a little-endian 256-bit integer. A zero hash saturates to MaxUint64.
func DifficultyFromHash(hash []byte) (uint64, error) {
	h, err := hashToInt(hash)
	if err != nil {
		return 0, err
	}
	if h.IsZero() {
		return math.MaxUint64, nil
	}

	q := new(uint256.Int).Div(new(uint256.Int).SetAllOne(), h)
	if !q.IsUint64() {
		return math.MaxUint64, nil
	}
	return q.Uint64(), nil
}

// HashMeetsDifficulty reports whether H * difficulty fits in 256 bits, the
// overflow-free form of DifficultyFromHash(hash) >= difficulty.
func HashMeetsDifficulty(hash []byte, difficulty uint64) (bool, error) {
	if difficulty == 0 {
		return true, nil
	}

	h, err := hashToInt(hash)
	if err != nil {
		return false, err
	}
	if h.IsZero() {
		return true, nil
	}

	_, overflow := new(uint256.Int).MulOverflow(h, uint256.NewInt(difficulty))
	return !overflow, nil
}
