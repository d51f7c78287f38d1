package daemon

import (
	"fmt"
	"time"
)

// BlockTemplate is an immutable snapshot of upstream work. A template is
// current from the poll that produced it until a successor with a different
// identity is emitted.
type BlockTemplate struct {
	Height         uint64
	PrevHash       string
	Blob           []byte
	ReservedOffset uint32
	Difficulty     uint64
	ExpectedReward uint64
	SeedHash       string
	NextSeedHash   string
	MajorVersion   uint8
	ReceivedAt     time.Time
}

// Key identifies a template generation. Two templates with equal keys carry
// the same upstream work.
func (t *BlockTemplate) Key() string {
	return fmt.Sprintf("%s:%d:%d", t.PrevHash, t.Height, t.MajorVersion)
}

// BlockHeader is the subset of the daemon's block header used by the core.
type BlockHeader struct {
	Hash       string
	Height     uint64
	Difficulty uint64
	Timestamp  uint64
}

// ChainInfo is the subset of get_info consumed by the poller.
type ChainInfo struct {
	Height       uint64
	TopBlockHash string
}
