package stratum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/bardlex/cnpool/internal/banning"
	"github.com/bardlex/cnpool/internal/clock"
	"github.com/bardlex/cnpool/internal/cryptonote"
	"github.com/bardlex/cnpool/internal/jobs"
	"github.com/bardlex/cnpool/internal/validation"
	"github.com/bardlex/cnpool/internal/vardiff"
	"github.com/bardlex/cnpool/pkg/log"
)

// MintJob steps the session difficulty, allocates the session extra nonce,
// mints a job, and retains it for later submission lookups.
func MintJob(manager *jobs.Manager, session *Session) (*jobs.WorkerJob, error) {
	difficulty := session.ApplyPendingDifficulty()
	job, err := manager.Mint(difficulty, session.NextExtraNonce())
	if err != nil {
		return nil, err
	}
	session.RememberJob(job)
	return job, nil
}

// JobWire converts a worker job to its wire form.
func JobWire(job *jobs.WorkerJob) *JobParams {
	return &JobParams{
		Blob:     job.BlobHex,
		JobID:    job.ID,
		Target:   job.TargetHex,
		Algo:     job.Algo.WireName(),
		Height:   job.Height,
		SeedHash: job.SeedHash,
	}
}

// Handler dispatches stratum requests for all sessions.
type Handler struct {
	logger    *log.Logger
	manager   *jobs.Manager
	validator *validation.Validator
	bans      *banning.Manager
	clock     clock.Clock

	address     cryptonote.AddressParams
	controllers map[int]*vardiff.Controller
	maxShareAge time.Duration
}

// NewHandler wires the request dispatcher.
func NewHandler(manager *jobs.Manager, validator *validation.Validator, bans *banning.Manager, clk clock.Clock, address cryptonote.AddressParams, controllers map[int]*vardiff.Controller, maxShareAge time.Duration, logger *log.Logger) *Handler {
	return &Handler{
		logger:      logger.WithComponent("handler"),
		manager:     manager,
		validator:   validator,
		bans:        bans,
		clock:       clk,
		address:     address,
		controllers: controllers,
		maxShareAge: maxShareAge,
	}
}

// HandleMessage implements MessageHandler.
func (h *Handler) HandleMessage(ctx context.Context, session *Session, req *Request) {
	session.TouchActivity()

	switch req.Method {
	case "login":
		h.handleLogin(ctx, session, req)
	case "getjob":
		h.handleGetJob(session, req)
	case "submit":
		h.handleSubmit(ctx, session, req)
	case "keepalived":
		h.handleKeepalived(session, req)
	default:
		h.sendError(session, req.ID, ErrorCodeUnsupported, fmt.Sprintf("Unsupported request %s", req.Method))
	}
}

// controllerFor resolves the vardiff policy for a session's listen port.
func (h *Handler) controllerFor(port int) *vardiff.Controller {
	if ctrl, ok := h.controllers[port]; ok {
		return ctrl
	}
	for _, ctrl := range h.controllers {
		return ctrl
	}
	return nil
}

func (h *Handler) handleLogin(ctx context.Context, session *Session, req *Request) {
	var params LoginParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(session, req.ID, ErrorCodeGeneric, "invalid params")
		return
	}

	if h.bans.IsBanned(ctx, session.RemoteIP()) {
		h.sendError(session, req.ID, ErrorCodeGeneric, "banned")
		session.Close()
		return
	}

	address, worker, paymentID := cryptonote.ParseLogin(params.Login)

	if paymentID != "" {
		if err := h.address.ValidatePaymentID(paymentID); err != nil {
			h.rejectLogin(ctx, session, req.ID, "invalid payment id", params.Login, err)
			return
		}
	}

	if err := h.address.ValidateAddress(address); err != nil {
		h.rejectLogin(ctx, session, req.ID, "invalid address", params.Login, err)
		return
	}

	ctrl := h.controllerFor(session.Port())

	// A re-login keeps the connection id and the current difficulty
	if !session.IsAuthorized() {
		difficulty := ctrl.Config().MinDiff
		static := false

		vars := cryptonote.ParsePassword(params.Pass)
		if d, ok := cryptonote.StaticDifficulty(vars); ok && d >= ctrl.Config().MinDiff {
			difficulty = ctrl.Clamp(d)
			static = true
		}

		session.SetDifficulty(difficulty, static)
	}

	session.Authorize(address, worker, paymentID, params.Agent)

	job, err := MintJob(h.manager, session)
	if err != nil {
		h.logger.WithError(err).Warn("login succeeded but no job available")
		h.sendError(session, req.ID, ErrorCodeGeneric, "pool not ready")
		return
	}

	result := &LoginResult{
		ID:         session.ID(),
		Job:        JobWire(job),
		Extensions: []string{"algo"},
		Status:     "OK",
	}

	if err := session.SendResponse(req.ID, result); err != nil {
		h.logger.WithError(err).Debug("failed to send login response")
		return
	}

	h.logger.WithMiner(address, worker).Info("miner logged in",
		"session_id", session.ID(),
		"difficulty", session.Difficulty(),
		"agent", params.Agent,
	)
}

func (h *Handler) handleGetJob(session *Session, req *Request) {
	var params GetJobParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(session, req.ID, ErrorCodeGeneric, "invalid params")
		return
	}

	if !session.IsAuthorized() || params.ID != session.ID() {
		h.sendError(session, req.ID, ErrorCodeGeneric, "unauthenticated")
		return
	}

	job, err := MintJob(h.manager, session)
	if err != nil {
		h.sendError(session, req.ID, ErrorCodeGeneric, "pool not ready")
		return
	}

	if err := session.SendResponse(req.ID, JobWire(job)); err != nil {
		h.logger.WithError(err).Debug("failed to send job response")
	}
}

func (h *Handler) handleSubmit(ctx context.Context, session *Session, req *Request) {
	if req.ID == nil {
		h.sendError(session, nil, ErrorCodeGeneric, "missing request id")
		return
	}

	var params SubmitParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(session, req.ID, ErrorCodeGeneric, "invalid params")
		return
	}

	if !session.IsAuthorized() || params.ID != session.ID() {
		h.sendError(session, req.ID, ErrorCodeGeneric, "unauthenticated")
		return
	}

	// Overload guard: a submit that sat in the queue past its useful life
	// is dropped with no response so the miner's retry logic backs off.
	if age := h.clock.Now().Sub(req.Received); age > h.maxShareAge {
		h.logger.Warn("dropping aged share submission",
			"session_id", session.ID(),
			"age", age,
			"max_share_age", h.maxShareAge,
		)
		return
	}

	miner, worker := session.Miner()

	job, ok := session.FindJob(params.JobID)
	if !ok {
		h.rejectShare(ctx, session, req.ID, ErrorCodeJobNotFound, "job not found")
		return
	}

	share, err := h.validator.Validate(ctx, job,
		validation.SubmitRequest{
			JobID:     params.JobID,
			NonceHex:  params.Nonce,
			ResultHex: params.Result,
		},
		validation.MinerContext{
			ConnectionID: session.ID(),
			RemoteAddr:   session.RemoteAddr(),
			Miner:        miner,
			Worker:       worker,
		},
	)
	if err != nil {
		var rej *validation.RejectError
		if errors.As(err, &rej) {
			h.rejectShare(ctx, session, req.ID, rejectCode(rej.Reason), rej.Reason.String())
			h.logger.LogShareSubmission(miner, worker, params.JobID, job.Difficulty, rej.Reason.String())
			return
		}

		// Internal failure: generic error, no penalty for the miner
		h.logger.WithError(err).Error("share validation failed internally")
		h.sendError(session, req.ID, ErrorCodeGeneric, "internal error")
		return
	}

	session.RecordValidShare(share.Difficulty)
	h.bans.ObserveShare(ctx, session.RemoteIP(), true)

	if err := session.SendResponse(req.ID, &StatusResult{Status: "OK"}); err != nil {
		h.logger.WithError(err).Debug("failed to send submit response")
	}

	h.logger.LogShareSubmission(miner, worker, params.JobID, share.Difficulty, "accepted")

	h.retarget(session)
}

// retarget runs the vardiff check after an accepted share and pushes a fresh
// job immediately when the difficulty steps.
func (h *Handler) retarget(session *Session) {
	if session.HasStaticDifficulty() {
		return
	}

	ctrl := h.controllerFor(session.Port())
	now := h.clock.Now()

	window := session.VardiffWindow()
	window.Record(now, ctrl.Config().WindowSize)

	next, ok := ctrl.Retarget(window, now, session.Difficulty())
	if !ok {
		return
	}

	session.SetPendingDifficulty(next)

	job, err := MintJob(h.manager, session)
	if err != nil {
		h.logger.WithError(err).Debug("retarget job mint failed")
		return
	}

	if err := session.SendJob(JobWire(job)); err != nil {
		h.logger.WithError(err).Debug("failed to push retarget job")
		return
	}

	h.logger.Info("session difficulty retargeted",
		"session_id", session.ID(),
		"difficulty", next,
	)
}

// rejectLogin replies with an authorization error and feeds the ban counter.
func (h *Handler) rejectLogin(ctx context.Context, session *Session, id any, message, login string, err error) {
	h.logger.WithError(err).Debug("login rejected", "login", login)
	h.sendError(session, id, ErrorCodeGeneric, message)

	if h.bans.ObserveShare(ctx, session.RemoteIP(), false) {
		h.logger.Warn("disconnecting banned session", "session_id", session.ID())
		session.Close()
	}
}

// rejectShare replies with a share error and feeds the ban counter; crossing
// the threshold disconnects the session.
func (h *Handler) rejectShare(ctx context.Context, session *Session, id any, code int, message string) {
	session.RecordInvalidShare()
	h.sendError(session, id, code, message)

	if h.bans.ObserveShare(ctx, session.RemoteIP(), false) {
		h.logger.Warn("disconnecting banned session", "session_id", session.ID())
		session.Close()
	}
}

func (h *Handler) handleKeepalived(session *Session, req *Request) {
	var params KeepalivedParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(session, req.ID, ErrorCodeGeneric, "invalid params")
		return
	}

	if !session.IsAuthorized() || params.ID != session.ID() {
		h.sendError(session, req.ID, ErrorCodeGeneric, "unauthenticated")
		return
	}

	if err := session.SendResponse(req.ID, &StatusResult{Status: "KEEPALIVED"}); err != nil {
		h.logger.WithError(err).Debug("failed to send keepalived response")
	}
}

func rejectCode(reason validation.RejectReason) int {
	switch reason {
	case validation.ReasonStale:
		return ErrorCodeJobNotFound
	case validation.ReasonDuplicate:
		return ErrorCodeDuplicateShare
	case validation.ReasonLowDifficulty:
		return ErrorCodeLowDifficulty
	case validation.ReasonBadHash:
		return ErrorCodeBadHash
	default:
		return ErrorCodeGeneric
	}
}

func (h *Handler) sendError(session *Session, id any, code int, message string) {
	if err := session.SendError(id, code, message); err != nil {
		h.logger.WithError(err).Debug("failed to send error response")
	}
}
