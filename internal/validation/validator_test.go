package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/bardlex/cnpool/internal/clock"
	"github.com/bardlex/cnpool/internal/daemon"
	"github.com/bardlex/cnpool/internal/jobs"
	"github.com/bardlex/cnpool/internal/messaging"
	"github.com/bardlex/cnpool/internal/pow"
	"github.com/bardlex/cnpool/pkg/log"
)

type fakeSubmitter struct {
	calls int
	err   error
}

func (f *fakeSubmitter) SubmitBlock(_ context.Context, _ string) error {
	f.calls++
	return f.err
}

func (f *fakeSubmitter) GetBlockHeaderByHash(_ context.Context, hash string) (*daemon.BlockHeader, error) {
	return &daemon.BlockHeader{Hash: hash, Height: 100}, nil
}

type busEvent struct {
	topic string
	event any
}

type fakeBus struct {
	events chan busEvent
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(chan busEvent, 16)}
}

func (f *fakeBus) Publish(_ context.Context, topic, _ string, event any) error {
	f.events <- busEvent{topic: topic, event: event}
	return nil
}

func (f *fakeBus) waitFor(t *testing.T, topic string) any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.topic == topic {
				return ev.event
			}
		case <-deadline:
			t.Fatalf("no event on topic %s", topic)
			return nil
		}
	}
}

type validatorEnv struct {
	manager   *jobs.Manager
	validator *Validator
	submitter *fakeSubmitter
	bus       *fakeBus
	ctx       context.Context
}

// testTemplate covers both nonce slots in a 64-byte blob: worker nonce at
// offset 39, reserved slot at 48.
func testTemplate(height uint64) *daemon.BlockTemplate {
	blob := make([]byte, 64)
	blob[0] = 1

	return &daemon.BlockTemplate{
		Height:         height,
		PrevHash:       fmt.Sprintf("prev-%d", height),
		Blob:           blob,
		ReservedOffset: 48,
		Difficulty:     1,
		ExpectedReward: 600000000000,
		MajorVersion:   1,
	}
}

func newValidatorEnv(t *testing.T) *validatorEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := log.New("test", "test", "error", "text")

	manager := jobs.NewManager(pow.FamilyCryptoNote, logger)
	manager.Publish(testTemplate(100))

	hashers := pow.NewPool(2, logger)
	hashers.Start(ctx)

	submitter := &fakeSubmitter{}
	bus := newFakeBus()

	validator := NewValidator(manager, hashers, submitter, bus, nil,
		&clock.Fixed{Current: time.Unix(5000, 0)}, 39, logger)

	return &validatorEnv{
		manager:   manager,
		validator: validator,
		submitter: submitter,
		bus:       bus,
		ctx:       ctx,
	}
}

func (e *validatorEnv) mint(t *testing.T, difficulty uint64) *jobs.WorkerJob {
	t.Helper()
	job, err := e.manager.Mint(difficulty, 7)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	return job
}

func minerCtx() MinerContext {
	return MinerContext{
		ConnectionID: "conn-1",
		RemoteAddr:   "127.0.0.1:4242",
		Miner:        "4miner",
		Worker:       "rig1",
	}
}

func TestValidateAcceptsBlockCandidate(t *testing.T) {
	env := newValidatorEnv(t)
	job := env.mint(t, 1)

	share, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{JobID: job.ID, NonceHex: "deadbeef"}, minerCtx())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	// Network difficulty 1: every hash is a block candidate
	if !share.IsBlockCandidate {
		t.Error("share not flagged as block candidate at network difficulty 1")
	}
	if share.BlockHash == "" {
		t.Error("candidate share missing block hash")
	}
	if env.submitter.calls != 1 {
		t.Errorf("submit_block calls = %d, want 1", env.submitter.calls)
	}
	if share.ShareDifficulty < 1 {
		t.Errorf("share difficulty = %d, want >= 1", share.ShareDifficulty)
	}
	if share.NetworkDifficulty != 1 {
		t.Errorf("network difficulty = %d, want 1", share.NetworkDifficulty)
	}
	if share.BlockHeight != 100 {
		t.Errorf("block height = %d, want 100", share.BlockHeight)
	}

	env.bus.waitFor(t, messaging.TopicBlocks)
	ev := env.bus.waitFor(t, messaging.TopicShares)
	if shareEv, ok := ev.(messaging.NewShare); !ok || shareEv.Miner != "4miner" {
		t.Errorf("share event = %#v, want NewShare for 4miner", ev)
	}
}

func TestValidateRejectsDuplicateNonce(t *testing.T) {
	env := newValidatorEnv(t)
	job := env.mint(t, 1)

	if _, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{JobID: job.ID, NonceHex: "deadbeef"}, minerCtx()); err != nil {
		t.Fatalf("first Validate() error = %v", err)
	}

	_, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{JobID: job.ID, NonceHex: "DEADBEEF"}, minerCtx())

	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonDuplicate {
		t.Errorf("error = %v, want duplicate rejection (case-folded nonce)", err)
	}
}

func TestValidateRejectsMalformedNonce(t *testing.T) {
	env := newValidatorEnv(t)
	job := env.mint(t, 1)

	_, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{JobID: job.ID, NonceHex: "zzzz"}, minerCtx())

	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonMalformed {
		t.Errorf("error = %v, want malformed rejection", err)
	}
}

func TestValidateRejectsBadHash(t *testing.T) {
	env := newValidatorEnv(t)
	job := env.mint(t, 1)

	_, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{
			JobID:     job.ID,
			NonceHex:  "cafebabe",
			ResultHex: "0000000000000000000000000000000000000000000000000000000000000000",
		}, minerCtx())

	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonBadHash {
		t.Errorf("error = %v, want bad hash rejection", err)
	}
}

func TestValidateRejectsLowDifficulty(t *testing.T) {
	env := newValidatorEnv(t)
	job := env.mint(t, math.MaxUint64)

	_, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{JobID: job.ID, NonceHex: "deadbeef"}, minerCtx())

	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonLowDifficulty {
		t.Errorf("error = %v, want low difficulty rejection", err)
	}
}

func TestValidateRejectsStaleJob(t *testing.T) {
	env := newValidatorEnv(t)
	job := env.mint(t, 1)

	// Push the job's template out of the retention window
	for h := uint64(101); h <= 105; h++ {
		env.manager.Publish(testTemplate(h))
	}

	_, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{JobID: job.ID, NonceHex: "deadbeef"}, minerCtx())

	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonStale {
		t.Errorf("error = %v, want stale rejection", err)
	}
}

func TestValidateDowngradesOnDaemonRejection(t *testing.T) {
	env := newValidatorEnv(t)
	env.submitter.err = fmt.Errorf("block not accepted")
	job := env.mint(t, 1)

	share, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{JobID: job.ID, NonceHex: "deadbeef"}, minerCtx())
	if err != nil {
		t.Fatalf("Validate() error = %v, daemon rejection must not fail the share", err)
	}

	if share.IsBlockCandidate {
		t.Error("candidate flag survived daemon rejection")
	}
	if share.BlockHash != "" {
		t.Error("block hash survived daemon rejection")
	}

	// The share itself is still recorded
	ev := env.bus.waitFor(t, messaging.TopicShares)
	if shareEv, ok := ev.(messaging.NewShare); !ok || shareEv.IsBlockCandidate {
		t.Errorf("share event = %#v, want downgraded NewShare", ev)
	}
}

func TestValidateNonceScopedPerJob(t *testing.T) {
	env := newValidatorEnv(t)
	job := env.mint(t, 1)

	// First submission computes the canonical hash
	first, err := env.validator.Validate(env.ctx, job,
		SubmitRequest{JobID: job.ID, NonceHex: "deadbeef"}, minerCtx())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if first.JobID != job.ID {
		t.Errorf("share job id = %s, want %s", first.JobID, job.ID)
	}

	// The same nonce on a fresh job is not a duplicate: the submission set
	// is job-scoped.
	job2 := env.mint(t, 1)
	share2, err := env.validator.Validate(env.ctx, job2,
		SubmitRequest{JobID: job2.ID, NonceHex: "deadbeef"}, minerCtx())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if share2.JobID != job2.ID {
		t.Errorf("share job id = %s, want %s", share2.JobID, job2.ID)
	}
}
