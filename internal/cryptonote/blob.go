// Package cryptonote implements the binary and numeric primitives of the
// CryptoNote block format: nonce splicing into template blobs, compact
// target encoding, 256-bit difficulty arithmetic, and miner login parsing.
package cryptonote

import (
	"encoding/binary"
	"fmt"
	"strings"

	fasthex "github.com/tmthrgd/go-hex"
)

const (
	// NonceSize is the width of every nonce slot in the block blob.
	NonceSize = 4

	// DefaultNonceOffset is where the miner nonce sits in a standard
	// CryptoNote hashing blob: varint major + varint minor + 5-byte varint
	// timestamp + 32-byte previous id.
	DefaultNonceOffset = 39
)

// SpliceReservedNonces writes the pool instance nonce and the session extra
// nonce little-endian into the template's reserved slot. The reserved area
// must fit both 4-byte values.
func SpliceReservedNonces(blob []byte, reservedOffset uint32, instanceNonce, extraNonce uint32) error {
	end := int(reservedOffset) + 2*NonceSize
	if end > len(blob) {
		return fmt.Errorf("reserved offset %d exceeds blob length %d", reservedOffset, len(blob))
	}

	binary.LittleEndian.PutUint32(blob[reservedOffset:], instanceNonce)
	binary.LittleEndian.PutUint32(blob[reservedOffset+NonceSize:], extraNonce)
	return nil
}

// ReadReservedNonces reads back the two pool nonce slots.
func ReadReservedNonces(blob []byte, reservedOffset uint32) (instanceNonce, extraNonce uint32, err error) {
	end := int(reservedOffset) + 2*NonceSize
	if end > len(blob) {
		return 0, 0, fmt.Errorf("reserved offset %d exceeds blob length %d", reservedOffset, len(blob))
	}

	instanceNonce = binary.LittleEndian.Uint32(blob[reservedOffset:])
	extraNonce = binary.LittleEndian.Uint32(blob[reservedOffset+NonceSize:])
	return instanceNonce, extraNonce, nil
}

// SpliceWorkerNonce writes the miner-chosen nonce at the coin's nonce offset.
func SpliceWorkerNonce(blob []byte, nonceOffset int, nonce []byte) error {
	if len(nonce) != NonceSize {
		return fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	if nonceOffset < 0 || nonceOffset+NonceSize > len(blob) {
		return fmt.Errorf("nonce offset %d exceeds blob length %d", nonceOffset, len(blob))
	}

	copy(blob[nonceOffset:nonceOffset+NonceSize], nonce)
	return nil
}

// ReadWorkerNonce reads the miner nonce slot.
func ReadWorkerNonce(blob []byte, nonceOffset int) ([]byte, error) {
	if nonceOffset < 0 || nonceOffset+NonceSize > len(blob) {
		return nil, fmt.Errorf("nonce offset %d exceeds blob length %d", nonceOffset, len(blob))
	}

	nonce := make([]byte, NonceSize)
	copy(nonce, blob[nonceOffset:nonceOffset+NonceSize])
	return nonce, nil
}

// NormalizeNonceHex validates a submitted nonce and returns its canonical
// lowercase hex form plus the raw bytes. Duplicate detection keys on the
// canonical form.
func NormalizeNonceHex(nonceHex string) (string, []byte, error) {
	if len(nonceHex) != NonceSize*2 {
		return "", nil, fmt.Errorf("nonce must be %d hex chars, got %d", NonceSize*2, len(nonceHex))
	}

	normalized := strings.ToLower(nonceHex)
	raw, err := fasthex.DecodeString(normalized)
	if err != nil {
		return "", nil, fmt.Errorf("nonce is not valid hex: %w", err)
	}

	return normalized, raw, nil
}

// MajorVersion reads the block major version, the first varint of the blob.
// Values below 0x80 occupy a single byte, which covers every deployed fork.
func MajorVersion(blob []byte) (uint8, error) {
	if len(blob) == 0 {
		return 0, fmt.Errorf("empty blob")
	}
	if blob[0] >= 0x80 {
		return 0, fmt.Errorf("unexpected multi-byte major version varint")
	}
	return blob[0], nil
}
