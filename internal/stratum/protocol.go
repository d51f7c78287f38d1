// Package stratum implements the CryptoNote stratum dialect: newline-framed
// JSON-RPC 2.0 with login/getjob/submit/keepalived requests and unsolicited
// job notifications.
package stratum

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Reserved error codes on the CryptoNote stratum wire.
const (
	ErrorCodeGeneric        = -1
	ErrorCodeUnsupported    = 20
	ErrorCodeJobNotFound    = 21
	ErrorCodeDuplicateShare = 22
	ErrorCodeLowDifficulty  = 23
	ErrorCodeBadHash        = 24
)

// Request is an inbound JSON-RPC request frame.
type Request struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`

	// Received is the server-side arrival timestamp, stamped by the read
	// loop and used by the stale-submission guard.
	Received time.Time `json:"-"`
}

// Error is the stratum error envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is an outbound reply to a request. The error field is always
// present, null on success, which legacy miners expect.
type Response struct {
	ID      any    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error"`
}

// Notification is an unsolicited server-to-client message.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// LoginParams is the login request payload.
type LoginParams struct {
	Login string `json:"login"`
	Pass  string `json:"pass"`
	Agent string `json:"agent"`
	RigID string `json:"rigid,omitempty"`
}

// GetJobParams is the getjob request payload.
type GetJobParams struct {
	ID string `json:"id"`
}

// SubmitParams is the submit request payload.
type SubmitParams struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Nonce  string `json:"nonce"`
	Result string `json:"result"`
}

// KeepalivedParams is the keepalived request payload.
type KeepalivedParams struct {
	ID string `json:"id"`
}

// JobParams is the wire form of a worker job.
type JobParams struct {
	Blob     string `json:"blob"`
	JobID    string `json:"job_id"`
	Target   string `json:"target"`
	Algo     string `json:"algo"`
	Height   uint64 `json:"height"`
	SeedHash string `json:"seed_hash"`
}

// LoginResult is the login response payload.
type LoginResult struct {
	ID         string     `json:"id"`
	Job        *JobParams `json:"job"`
	Extensions []string   `json:"extensions"`
	Status     string     `json:"status"`
}

// StatusResult is the generic status response payload.
type StatusResult struct {
	Status string `json:"status"`
}

// ParseRequest parses one inbound frame.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &req, nil
}

// NewResponse creates a success response.
func NewResponse(id any, result any) *Response {
	return &Response{
		ID:      id,
		JSONRPC: "2.0",
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id any, code int, message string) *Response {
	return &Response{
		ID:      id,
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// NewJobNotification creates an unsolicited job push.
func NewJobNotification(job *JobParams) *Notification {
	return &Notification{
		JSONRPC: "2.0",
		Method:  "job",
		Params:  job,
	}
}

// Marshal encodes an outbound message.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
