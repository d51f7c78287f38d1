package jobs

import (
	"sync"

	"github.com/bardlex/cnpool/internal/pow"
)

// WorkerJob is a per-session, per-template work unit. All fields except the
// submission set are frozen at mint time; the template is referenced by key
// and looked up at validation, never owned.
type WorkerJob struct {
	ID            string
	TemplateKey   string
	Height        uint64
	InstanceNonce uint32
	ExtraNonce    uint32
	Difficulty    uint64
	SeedHash      string
	Algo          pow.Algo
	BlobHex       string
	TargetHex     string

	mu          sync.Mutex
	submissions map[string]struct{}
}

// MarkSubmission records a normalized nonce against the job, returning false
// when the nonce was already submitted.
func (j *WorkerJob) MarkSubmission(nonce string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.submissions == nil {
		j.submissions = make(map[string]struct{})
	}

	if _, dup := j.submissions[nonce]; dup {
		return false
	}

	j.submissions[nonce] = struct{}{}
	return true
}

// SubmissionCount returns the number of distinct nonces seen on this job.
func (j *WorkerJob) SubmissionCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.submissions)
}
