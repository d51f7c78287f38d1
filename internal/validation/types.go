package validation

import "time"

// Share is the verdict produced for an accepted submission.
type Share struct {
	Miner             string
	Worker            string
	ConnectionID      string
	RemoteAddr        string
	JobID             string
	Difficulty        uint64 // miner target the share satisfies
	ShareDifficulty   uint64
	NetworkDifficulty uint64
	IsBlockCandidate  bool
	BlockHash         string
	BlockHeight       uint64
	BlockReward       uint64
	Created           time.Time
}

// SubmitRequest is the parsed submit payload handed to the validator.
type SubmitRequest struct {
	JobID     string
	NonceHex  string
	ResultHex string
}

// MinerContext identifies the submitting session.
type MinerContext struct {
	ConnectionID string
	RemoteAddr   string
	Miner        string
	Worker       string
}

// RejectReason classifies why a submission was refused.
type RejectReason int

const (
	ReasonMalformed RejectReason = iota
	ReasonStale
	ReasonDuplicate
	ReasonLowDifficulty
	ReasonBadHash
)

// String returns the human-readable reject reason.
func (r RejectReason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed submission"
	case ReasonStale:
		return "block expired"
	case ReasonDuplicate:
		return "duplicate share"
	case ReasonLowDifficulty:
		return "low difficulty share"
	case ReasonBadHash:
		return "bad hash"
	default:
		return "rejected"
	}
}

// RejectError is a share rejection carrying its classification.
type RejectError struct {
	Reason RejectReason
	Detail string
}

// Error implements the error interface.
func (e *RejectError) Error() string {
	if e.Detail != "" {
		return e.Reason.String() + ": " + e.Detail
	}
	return e.Reason.String()
}

func reject(reason RejectReason, detail string) *RejectError {
	return &RejectError{Reason: reason, Detail: detail}
}
