package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/rawdb"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/epoch"
	"github.com/eth2030/aggsettle/orchestrator"
	"github.com/eth2030/aggsettle/storage"
	"github.com/eth2030/aggsettle/testutil"
	"github.com/eth2030/aggsettle/transition"
)

// stageProven stores the next certificate of n as Proven and returns its
// announcement together with the staged output.
func stageProven(t *testing.T, s *storage.Store, n *testutil.Network) (orchestrator.ProvenCertificate, *transition.PessimisticProofOutput) {
	t.Helper()
	cert := n.Certificate(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 9, 0)}, nil)
	cert.CustomChainData = []byte{0xcc}
	testutil.Sign(t, n.Sequencer, cert, aggchain.VersionV3)
	if _, err := s.InsertPendingCertificate(cert); err != nil {
		t.Fatalf("insert: %v", err)
	}
	w, next, err := transition.BuildWitness(n.State, cert, types.Hash{}, n.Context())
	if err != nil {
		t.Fatalf("witness: %v", err)
	}
	out, err := transition.Execute(n.State.Roots(), w, aggchain.NewVerifier(nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	next.RootVersion = out.RootVersion
	if err := s.MarkProven(cert.ID(), types.Proof{0xab}, &storage.ProvenRecord{State: next, Output: out}); err != nil {
		t.Fatalf("mark proven: %v", err)
	}
	return orchestrator.ProvenCertificate{CertificateID: cert.ID(), NetworkID: cert.NetworkID, Height: cert.Height}, out
}

func newPacker(c RollupContract, s *storage.Store, n Notifier) *Packer {
	return NewPacker(s, NewSettler(c, testSettlerConfig(), nil), NewCounter(0), n, 2, nil)
}

func TestPackSettlesCertificates(t *testing.T) {
	s := storage.New(rawdb.NewMemoryDB())
	c := newFakeContract()
	notes := new(recordingNotifier)
	p := newPacker(c, s, notes)

	a, outA := stageProven(t, s, testutil.NewNetwork(t, 1))
	b, _ := stageProven(t, s, testutil.NewNetwork(t, 2))
	if err := p.Pack(context.Background(), 3, []orchestrator.ProvenCertificate{a, b}); err != nil {
		t.Fatalf("pack: %v", err)
	}

	for i, pc := range []orchestrator.ProvenCertificate{a, b} {
		h, err := s.GetCertificateHeader(pc.CertificateID)
		if err != nil {
			t.Fatalf("header: %v", err)
		}
		if h.Status != types.StatusSettled || *h.EpochNumber != 3 || *h.CertificateIndex != types.CertificateIndex(i) {
			t.Fatalf("certificate %d: header %+v", i, h)
		}
	}
	if len(c.sent) != 2 {
		t.Fatalf("sent %d transactions", len(c.sent))
	}
	var call *Call
	for _, tx := range c.sent {
		if tx.call.NetworkID == 1 {
			call = tx.call
		}
	}
	if call == nil || call.NewPessimisticRoot != outA.NewPessimisticRoot || call.NewLocalExitRoot != outA.NewLocalExitRoot ||
		len(call.Proof) != 1 || call.Proof[0] != 0xab || len(call.CustomChainData) != 1 || call.JobID == 0 {
		t.Fatalf("unexpected call %+v", call)
	}
	if c.sent[0].call.JobID == c.sent[1].call.JobID {
		t.Fatal("job ids must be unique")
	}
	outcomes := notes.all()
	if len(outcomes) != 2 || outcomes[0].err != nil || outcomes[1].err != nil {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	state, _ := s.GetLocalNetworkState(1)
	if state.ExitTree.LeafCount != 1 {
		t.Fatalf("settled state not committed")
	}
}

func TestPackAtMostOnce(t *testing.T) {
	s := storage.New(rawdb.NewMemoryDB())
	c := newFakeContract()
	p := newPacker(c, s, new(recordingNotifier))

	if err := p.Pack(context.Background(), 0, nil); err != nil {
		t.Fatalf("pack empty epoch: %v", err)
	}
	if ok, _ := s.IsPacked(0); !ok {
		t.Fatal("empty epoch not recorded")
	}
	pc, _ := stageProven(t, s, testutil.NewNetwork(t, 1))
	if err := p.Pack(context.Background(), 0, []orchestrator.ProvenCertificate{pc}); err != nil {
		t.Fatalf("repack: %v", err)
	}
	if c.sentCount() != 0 {
		t.Fatal("a packed epoch was settled twice")
	}
	if h, _ := s.GetCertificateHeader(pc.CertificateID); h.Status != types.StatusProven {
		t.Fatalf("header status %s, want Proven", h.Status)
	}
}

func TestPackSettlementFailure(t *testing.T) {
	s := storage.New(rawdb.NewMemoryDB())
	c := newFakeContract()
	c.revert = true
	notes := new(recordingNotifier)
	p := newPacker(c, s, notes)

	pc, _ := stageProven(t, s, testutil.NewNetwork(t, 4))
	if err := p.Pack(context.Background(), 1, []orchestrator.ProvenCertificate{pc}); err != nil {
		t.Fatalf("pack: %v", err)
	}
	h, _ := s.GetCertificateHeader(pc.CertificateID)
	if h.Status != types.StatusInError || h.Error == nil || h.Error.Kind != "SettlementError.ContractError" {
		t.Fatalf("header %+v", h)
	}
	outcomes := notes.all()
	if len(outcomes) != 1 || !errors.Is(outcomes[0].err, ErrContractError) {
		t.Fatalf("outcomes %+v", outcomes)
	}
	if _, err := s.GetProven(pc.CertificateID); err != nil {
		t.Fatalf("staged state dropped on failure: %v", err)
	}
}

func TestPackCancelledLeavesCandidate(t *testing.T) {
	s := storage.New(rawdb.NewMemoryDB())
	c := newFakeContract()
	c.noMine = true
	notes := new(recordingNotifier)
	cfg := testSettlerConfig()
	cfg.AttemptTimeout = time.Minute
	cfg.SettlementTimeout = time.Minute
	p := NewPacker(s, NewSettler(c, cfg, nil), NewCounter(0), notes, 0, nil)

	pc, _ := stageProven(t, s, testutil.NewNetwork(t, 1))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := p.Pack(ctx, 0, []orchestrator.ProvenCertificate{pc}); err != nil {
		t.Fatalf("pack: %v", err)
	}
	h, _ := s.GetCertificateHeader(pc.CertificateID)
	if h.Status != types.StatusCandidate || h.Error != nil {
		t.Fatalf("header %+v, want untouched Candidate", h)
	}
	if len(notes.all()) != 0 {
		t.Fatal("aborted settlement must not report an outcome")
	}
}

func TestPackUnknownCertificate(t *testing.T) {
	s := storage.New(rawdb.NewMemoryDB())
	notes := new(recordingNotifier)
	p := newPacker(newFakeContract(), s, notes)
	pc := orchestrator.ProvenCertificate{CertificateID: types.HexToHash("0x01"), NetworkID: 1}
	if err := p.Pack(context.Background(), 0, []orchestrator.ProvenCertificate{pc}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	if outcomes := notes.all(); len(outcomes) != 1 || outcomes[0].err == nil {
		t.Fatalf("outcomes %+v", outcomes)
	}
	if ok, _ := s.IsPacked(0); ok {
		t.Fatal("failed pack recorded the epoch")
	}
}

// brokenEpochStore fails every PackEpoch.
type brokenEpochStore struct {
	*storage.Store
	err error
}

func (b *brokenEpochStore) PackEpoch(types.EpochNumber, []types.CertificateID) error {
	return b.err
}

func TestPackEpochFailureStopsOrchestrator(t *testing.T) {
	s := storage.New(rawdb.NewMemoryDB())
	errDisk := errors.New("disk full")
	notes := new(recordingNotifier)
	p := NewPacker(&brokenEpochStore{Store: s, err: errDisk}, NewSettler(newFakeContract(), testSettlerConfig(), nil), NewCounter(0), notes, 2, nil)

	events := make(chan epoch.Ended)
	o := orchestrator.New(p, events, nil)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	pc, _ := stageProven(t, s, testutil.NewNetwork(t, 6))
	if err := o.Submit(context.Background(), pc); err != nil {
		t.Fatalf("submit: %v", err)
	}
	events <- epoch.Ended{Epoch: 0}
	select {
	case err := <-done:
		if !errors.Is(err, errDisk) {
			t.Fatalf("orchestrator returned %v, want %v", err, errDisk)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator kept running after a storage failure")
	}

	outcomes := notes.all()
	if len(outcomes) != 1 || outcomes[0].id != pc.CertificateID || !errors.Is(outcomes[0].err, errDisk) {
		t.Fatalf("outcomes %+v", outcomes)
	}
	if h, _ := s.GetCertificateHeader(pc.CertificateID); h.Status != types.StatusProven {
		t.Fatalf("status %s, want Proven", h.Status)
	}
}
