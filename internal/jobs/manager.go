package jobs

import (
	"strconv"
	"sync"
	"sync/atomic"

	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/cnpool/internal/cryptonote"
	"github.com/bardlex/cnpool/internal/daemon"
	"github.com/bardlex/cnpool/internal/pow"
	"github.com/bardlex/cnpool/pkg/errors"
	"github.com/bardlex/cnpool/pkg/log"
)

// retainedTemplates bounds how many template generations stay resolvable.
// Jobs minted against older templates validate as stale.
const retainedTemplates = 4

// Manager owns the template stream and mints worker jobs. Job ids and
// instance nonces are pool-global atomic counters.
type Manager struct {
	logger *log.Logger
	family pow.Family
	stream *Stream

	jobCounter    atomic.Uint64
	instanceNonce atomic.Uint32

	mu        sync.RWMutex
	templates map[string]*daemon.BlockTemplate
	order     []string
}

// NewManager creates a job manager for the given coin family.
func NewManager(family pow.Family, logger *log.Logger) *Manager {
	return &Manager{
		logger:    logger.WithComponent("jobs"),
		family:    family,
		stream:    NewStream(),
		templates: make(map[string]*daemon.BlockTemplate),
	}
}

// Stream exposes the template stream for the broadcaster.
func (m *Manager) Stream() *Stream {
	return m.stream
}

// Publish retains a template for validation lookups and fans it out to
// stream subscribers.
func (m *Manager) Publish(t *daemon.BlockTemplate) {
	m.mu.Lock()
	key := t.Key()
	if _, known := m.templates[key]; !known {
		m.templates[key] = t
		m.order = append(m.order, key)
		for len(m.order) > retainedTemplates {
			delete(m.templates, m.order[0])
			m.order = m.order[1:]
		}
	}
	m.mu.Unlock()

	m.logger.LogTemplate(t.Height, t.PrevHash, t.Difficulty)
	m.stream.Publish(t)
}

// Template resolves a job's template by key. A false return means the
// template has been superseded beyond the retention window and the job is
// stale.
func (m *Manager) Template(key string) (*daemon.BlockTemplate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[key]
	return t, ok
}

// Algo resolves the proof-of-work algorithm for a template.
func (m *Manager) Algo(t *daemon.BlockTemplate) (pow.Algo, error) {
	return pow.Lookup(m.family, t.MajorVersion)
}

// Mint creates a worker job for a session at the given difficulty. The
// extra nonce is session-scoped and supplied by the caller; the instance
// nonce is allocated here from the pool-global counter.
func (m *Manager) Mint(difficulty uint64, extraNonce uint32) (*WorkerJob, error) {
	t := m.stream.Current()
	if t == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "mint_job",
			"no block template available")
	}

	algo, err := m.Algo(t)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "mint_job",
			"cannot resolve proof-of-work algorithm")
	}

	instanceNonce := m.instanceNonce.Add(1)

	blob := make([]byte, len(t.Blob))
	copy(blob, t.Blob)
	if err := cryptonote.SpliceReservedNonces(blob, t.ReservedOffset, instanceNonce, extraNonce); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "mint_job",
			"failed to splice pool nonces")
	}

	var targetHex string
	if algo.UsesSeed() {
		targetHex, err = cryptonote.EncodeWideTarget(difficulty)
	} else {
		targetHex, err = cryptonote.EncodeCompactTarget(difficulty)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "mint_job",
			"failed to encode target")
	}

	blobHex := fasthex.EncodeToString(blob)

	// Both checked independently: an empty blob or empty target would hand
	// the miner unusable work.
	if blobHex == "" {
		return nil, errors.New(errors.ErrorTypeInternal, "mint_job", "empty job blob")
	}
	if targetHex == "" {
		return nil, errors.New(errors.ErrorTypeInternal, "mint_job", "empty job target")
	}

	return &WorkerJob{
		ID:            strconv.FormatUint(m.jobCounter.Add(1), 10),
		TemplateKey:   t.Key(),
		Height:        t.Height,
		InstanceNonce: instanceNonce,
		ExtraNonce:    extraNonce,
		Difficulty:    difficulty,
		SeedHash:      t.SeedHash,
		Algo:          algo,
		BlobHex:       blobHex,
		TargetHex:     targetHex,
	}, nil
}
