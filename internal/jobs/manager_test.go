package jobs

import (
	"fmt"
	"strconv"
	"testing"

	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/cnpool/internal/cryptonote"
	"github.com/bardlex/cnpool/internal/daemon"
	"github.com/bardlex/cnpool/internal/pow"
	"github.com/bardlex/cnpool/pkg/log"
)

const testReservedOffset = 48

func testLogger() *log.Logger {
	return log.New("test", "test", "error", "text")
}

// managerTemplate builds a template whose blob is large enough for both the
// reserved slot and the worker nonce offset.
func managerTemplate(height uint64, major uint8) *daemon.BlockTemplate {
	blob := make([]byte, 64)
	blob[0] = major

	return &daemon.BlockTemplate{
		Height:         height,
		PrevHash:       fmt.Sprintf("prev-%d", height),
		Blob:           blob,
		ReservedOffset: testReservedOffset,
		Difficulty:     300000000000,
		ExpectedReward: 600000000000,
		MajorVersion:   major,
	}
}

func TestMintWithoutTemplate(t *testing.T) {
	m := NewManager(pow.FamilyCryptoNote, testLogger())

	if _, err := m.Mint(1000, 1); err == nil {
		t.Error("expected error minting with no template")
	}
}

func TestMintJobFields(t *testing.T) {
	m := NewManager(pow.FamilyCryptoNote, testLogger())
	m.Publish(managerTemplate(100, 1))

	job, err := m.Mint(5000, 7)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if job.Height != 100 {
		t.Errorf("height = %d, want 100", job.Height)
	}
	if job.Difficulty != 5000 {
		t.Errorf("difficulty = %d, want 5000", job.Difficulty)
	}
	if job.Algo != pow.AlgoCNv0 {
		t.Errorf("algo = %s, want cn/0", job.Algo.WireName())
	}
	if job.TargetHex != "711b0d00" {
		t.Errorf("target = %q, want compact target for 5000", job.TargetHex)
	}

	blob, err := fasthex.DecodeString(job.BlobHex)
	if err != nil {
		t.Fatalf("job blob not hex: %v", err)
	}

	instance, extra, err := cryptonote.ReadReservedNonces(blob, testReservedOffset)
	if err != nil {
		t.Fatalf("ReadReservedNonces() error = %v", err)
	}
	if instance != job.InstanceNonce {
		t.Errorf("spliced instance nonce = %d, want %d", instance, job.InstanceNonce)
	}
	if extra != 7 {
		t.Errorf("spliced extra nonce = %d, want 7", extra)
	}
}

func TestMintWideTargetForRandomX(t *testing.T) {
	m := NewManager(pow.FamilyCryptoNote, testLogger())
	tpl := managerTemplate(200, 14)
	tpl.SeedHash = "aa"
	m.Publish(tpl)

	job, err := m.Mint(100000, 1)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if job.Algo != pow.AlgoRandomX {
		t.Fatalf("algo = %s, want rx/0", job.Algo.WireName())
	}
	if job.TargetHex != "471b47acc5a70000" {
		t.Errorf("target = %q, want wide target for 100000", job.TargetHex)
	}
	if job.SeedHash != "aa" {
		t.Errorf("seed hash = %q, want template seed", job.SeedHash)
	}
}

func TestJobIDsMonotonic(t *testing.T) {
	m := NewManager(pow.FamilyCryptoNote, testLogger())
	m.Publish(managerTemplate(100, 1))

	var last uint64
	for i := 0; i < 10; i++ {
		job, err := m.Mint(1000, uint32(i))
		if err != nil {
			t.Fatalf("Mint() error = %v", err)
		}

		id, err := strconv.ParseUint(job.ID, 10, 64)
		if err != nil {
			t.Fatalf("job id %q not decimal: %v", job.ID, err)
		}
		if id <= last {
			t.Fatalf("job id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestInstanceNoncesDistinct(t *testing.T) {
	m := NewManager(pow.FamilyCryptoNote, testLogger())
	m.Publish(managerTemplate(100, 1))

	seen := make(map[uint32]bool)
	for i := 0; i < 20; i++ {
		job, err := m.Mint(1000, 1)
		if err != nil {
			t.Fatalf("Mint() error = %v", err)
		}
		if seen[job.InstanceNonce] {
			t.Fatalf("instance nonce %d reused", job.InstanceNonce)
		}
		seen[job.InstanceNonce] = true
	}
}

func TestTemplateRetention(t *testing.T) {
	m := NewManager(pow.FamilyCryptoNote, testLogger())

	first := managerTemplate(1, 1)
	m.Publish(first)

	job, err := m.Mint(1000, 1)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if _, ok := m.Template(job.TemplateKey); !ok {
		t.Fatal("freshly minted job's template not resolvable")
	}

	// Push the first template out of the retention window
	for h := uint64(2); h <= uint64(retainedTemplates+1); h++ {
		m.Publish(managerTemplate(h, 1))
	}

	if _, ok := m.Template(job.TemplateKey); ok {
		t.Error("evicted template still resolvable")
	}
	if _, ok := m.Template(managerTemplate(uint64(retainedTemplates+1), 1).Key()); !ok {
		t.Error("newest template not resolvable")
	}
}

func TestMarkSubmission(t *testing.T) {
	job := &WorkerJob{}

	if !job.MarkSubmission("deadbeef") {
		t.Error("first submission rejected")
	}
	if job.MarkSubmission("deadbeef") {
		t.Error("duplicate submission accepted")
	}
	if !job.MarkSubmission("cafebabe") {
		t.Error("distinct submission rejected")
	}
	if got := job.SubmissionCount(); got != 2 {
		t.Errorf("SubmissionCount() = %d, want 2", got)
	}
}
