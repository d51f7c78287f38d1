package messaging

import "time"

// NewShare is published for every accepted share.
type NewShare struct {
	Miner             string    `json:"miner"`
	Worker            string    `json:"worker"`
	ConnectionID      string    `json:"connection_id"`
	RemoteAddr        string    `json:"remote_addr"`
	JobID             string    `json:"job_id"`
	Difficulty        uint64    `json:"difficulty"`
	ShareDifficulty   uint64    `json:"share_difficulty"`
	NetworkDifficulty uint64    `json:"network_difficulty"`
	IsBlockCandidate  bool      `json:"is_block_candidate"`
	BlockHash         string    `json:"block_hash,omitempty"`
	BlockHeight       uint64    `json:"block_height"`
	BlockReward       uint64    `json:"block_reward"`
	Created           time.Time `json:"created"`
}

// NewBlock is published when a block candidate is accepted by the daemon.
type NewBlock struct {
	BlockHash string    `json:"block_hash"`
	Height    uint64    `json:"height"`
	Miner     string    `json:"miner"`
	Worker    string    `json:"worker"`
	Reward    uint64    `json:"reward"`
	FoundAt   time.Time `json:"found_at"`
}

// Telemetry is published for operation measurements.
type Telemetry struct {
	Category   string  `json:"category"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
}
