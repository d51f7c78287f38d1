// Package validation reconstructs submitted blobs, computes the
// proof-of-work hash, and classifies each submission against the miner and
// network targets.
package validation

import (
	"context"
	"strings"
	"time"

	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/cnpool/internal/clock"
	"github.com/bardlex/cnpool/internal/cryptonote"
	"github.com/bardlex/cnpool/internal/daemon"
	"github.com/bardlex/cnpool/internal/jobs"
	"github.com/bardlex/cnpool/internal/messaging"
	"github.com/bardlex/cnpool/internal/pow"
	"github.com/bardlex/cnpool/internal/telemetry"
	"github.com/bardlex/cnpool/pkg/log"
)

// Bus is the share-consuming message bus contract.
type Bus interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// DaemonClient is the validator's slice of the daemon RPC surface: racing
// solved blocks upstream and confirming they landed.
type DaemonClient interface {
	SubmitBlock(ctx context.Context, blobHex string) error
	GetBlockHeaderByHash(ctx context.Context, hash string) (*daemon.BlockHeader, error)
}

// Validator validates submitted shares for the stratum sessions.
type Validator struct {
	manager     *jobs.Manager
	hashers     *pow.Pool
	submitter   DaemonClient
	bus         Bus
	telemetry   *telemetry.Recorder
	clock       clock.Clock
	logger      *log.Logger
	nonceOffset int
}

// NewValidator wires a share validator.
func NewValidator(manager *jobs.Manager, hashers *pow.Pool, submitter DaemonClient, bus Bus, rec *telemetry.Recorder, clk clock.Clock, nonceOffset int, logger *log.Logger) *Validator {
	return &Validator{
		manager:     manager,
		hashers:     hashers,
		submitter:   submitter,
		bus:         bus,
		telemetry:   rec,
		clock:       clk,
		logger:      logger.WithComponent("validation"),
		nonceOffset: nonceOffset,
	}
}

// Validate checks one submission against its job. On success the share is
// published to the bus and, for block candidates, submitted to the daemon.
// Rejections are returned as *RejectError.
func (v *Validator) Validate(ctx context.Context, job *jobs.WorkerJob, req SubmitRequest, miner MinerContext) (*Share, error) {
	start := time.Now()
	share, err := v.validate(ctx, job, req, miner)
	v.telemetry.Measure(ctx, "share_validation", start, err == nil)
	return share, err
}

func (v *Validator) validate(ctx context.Context, job *jobs.WorkerJob, req SubmitRequest, miner MinerContext) (*Share, error) {
	nonce, nonceBytes, err := cryptonote.NormalizeNonceHex(req.NonceHex)
	if err != nil {
		return nil, reject(ReasonMalformed, err.Error())
	}

	// First writer wins; a duplicate nonce never reaches the hashers
	if !job.MarkSubmission(nonce) {
		return nil, reject(ReasonDuplicate, "")
	}

	template, ok := v.manager.Template(job.TemplateKey)
	if !ok {
		return nil, reject(ReasonStale, "")
	}

	blob, err := fasthex.DecodeString(job.BlobHex)
	if err != nil {
		return nil, reject(ReasonMalformed, "job blob unreadable")
	}
	if err := cryptonote.SpliceWorkerNonce(blob, v.nonceOffset, nonceBytes); err != nil {
		return nil, reject(ReasonMalformed, err.Error())
	}

	var seed []byte
	if job.Algo.UsesSeed() {
		seed, err = fasthex.DecodeString(template.SeedHash)
		if err != nil {
			return nil, reject(ReasonStale, "template seed unreadable")
		}
	}

	hash, err := v.hashers.Hash(ctx, job.Algo, blob, seed)
	if err != nil {
		return nil, err
	}

	hashHex := fasthex.EncodeToString(hash)
	if req.ResultHex != "" && !strings.EqualFold(req.ResultHex, hashHex) {
		return nil, reject(ReasonBadHash, "")
	}

	shareDiff, err := cryptonote.DifficultyFromHash(hash)
	if err != nil {
		return nil, reject(ReasonMalformed, err.Error())
	}

	if shareDiff < job.Difficulty {
		return nil, reject(ReasonLowDifficulty, "")
	}

	share := &Share{
		Miner:             miner.Miner,
		Worker:            miner.Worker,
		ConnectionID:      miner.ConnectionID,
		RemoteAddr:        miner.RemoteAddr,
		JobID:             job.ID,
		Difficulty:        job.Difficulty,
		ShareDifficulty:   shareDiff,
		NetworkDifficulty: template.Difficulty,
		BlockHeight:       template.Height,
		BlockReward:       template.ExpectedReward,
		Created:           v.clock.Now(),
	}

	candidate, err := cryptonote.HashMeetsDifficulty(hash, template.Difficulty)
	if err != nil {
		return nil, reject(ReasonMalformed, err.Error())
	}

	if candidate {
		share.IsBlockCandidate = true
		share.BlockHash = cryptonote.BlockID(blob)

		submitStart := time.Now()
		submitErr := v.submitter.SubmitBlock(ctx, fasthex.EncodeToString(blob))
		v.telemetry.Measure(ctx, "submit_block", submitStart, submitErr == nil)

		if submitErr != nil {
			// The daemon lost the race or rejected the block; the share
			// itself stays valid.
			v.logger.WithError(submitErr).
				WithJob(job.ID, template.Height).
				Warn("daemon rejected block candidate, downgrading share")
			share.IsBlockCandidate = false
			share.BlockHash = ""
		} else {
			v.logger.LogBlockCandidate(share.BlockHash, template.Height, miner.Miner, miner.Worker, shareDiff)
			v.publishBlock(ctx, share)
			v.confirmBlock(ctx, share.BlockHash)
		}
	}

	v.publishShare(ctx, share)
	return share, nil
}

// publishShare mirrors the verdict to the bus without stalling the session:
// a full or unreachable bus drops the event with a log entry while the share
// remains counted.
func (v *Validator) publishShare(ctx context.Context, share *Share) {
	event := messaging.NewShare{
		Miner:             share.Miner,
		Worker:            share.Worker,
		ConnectionID:      share.ConnectionID,
		RemoteAddr:        share.RemoteAddr,
		JobID:             share.JobID,
		Difficulty:        share.Difficulty,
		ShareDifficulty:   share.ShareDifficulty,
		NetworkDifficulty: share.NetworkDifficulty,
		IsBlockCandidate:  share.IsBlockCandidate,
		BlockHash:         share.BlockHash,
		BlockHeight:       share.BlockHeight,
		BlockReward:       share.BlockReward,
		Created:           share.Created,
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := v.bus.Publish(pubCtx, messaging.TopicShares, share.Miner, event); err != nil {
			v.logger.WithError(err).Error("failed to publish share event")
		}
	}()
}

// confirmBlock asks the daemon for the header of a freshly submitted block.
// Failure only logs: the daemon accepted the submission, so the block exists
// even if it is not queryable yet.
func (v *Validator) confirmBlock(ctx context.Context, blockHash string) {
	go func() {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		header, err := v.submitter.GetBlockHeaderByHash(lookupCtx, blockHash)
		if err != nil {
			v.logger.WithError(err).Debug("submitted block not yet queryable", "block_hash", blockHash)
			return
		}

		v.logger.Info("block confirmed by daemon",
			"block_hash", header.Hash,
			"height", header.Height,
		)
	}()
}

func (v *Validator) publishBlock(ctx context.Context, share *Share) {
	event := messaging.NewBlock{
		BlockHash: share.BlockHash,
		Height:    share.BlockHeight,
		Miner:     share.Miner,
		Worker:    share.Worker,
		Reward:    share.BlockReward,
		FoundAt:   share.Created,
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := v.bus.Publish(pubCtx, messaging.TopicBlocks, share.BlockHash, event); err != nil {
			v.logger.WithError(err).Error("failed to publish block event")
		}
	}()
}
