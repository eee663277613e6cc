package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
)

func testExit(amount uint64) BridgeExit {
	return BridgeExit{
		LeafType:           LeafTypeTransfer,
		TokenInfo:          TokenInfo{OriginNetwork: 0, OriginTokenAddress: HexToAddress("0xaa")},
		DestinationNetwork: 2,
		DestinationAddress: HexToAddress("0xbb"),
		Amount:             uint256.NewInt(amount),
	}
}

func TestCertificateIDDeterministic(t *testing.T) {
	c := &Certificate{NetworkID: 1, Height: 7, PrevLocalExitRoot: HexToHash("0x01"), NewLocalExitRoot: HexToHash("0x02")}
	id := c.ID()
	if id != c.ID() {
		t.Fatal("ID not deterministic")
	}
	c.BridgeExits = append(c.BridgeExits, testExit(5))
	if c.ID() != id {
		t.Fatal("ID should only depend on network, height and exit roots")
	}
	c.Height = 8
	if c.ID() == id {
		t.Fatal("ID should change with height")
	}
}

func TestGlobalIndex(t *testing.T) {
	tests := []struct {
		gi      GlobalIndex
		network NetworkID
		u256    string
	}{
		{GlobalIndex{MainnetFlag: true, LeafIndex: 3}, 0, "0x10000000000000003"},
		{GlobalIndex{RollupIndex: 0, LeafIndex: 1}, 1, "0x1"},
		{GlobalIndex{RollupIndex: 4, LeafIndex: 2}, 5, "0x400000002"},
	}
	for i, tt := range tests {
		if got := tt.gi.NetworkID(); got != tt.network {
			t.Errorf("case %d: network = %d, want %d", i, got, tt.network)
		}
		if got := tt.gi.U256().Hex(); got != tt.u256 {
			t.Errorf("case %d: u256 = %s, want %s", i, got, tt.u256)
		}
		if key := tt.gi.NullifierKey(); key.NetworkID != tt.network || key.LetIndex != tt.gi.LeafIndex {
			t.Errorf("case %d: unexpected nullifier key %+v", i, key)
		}
	}
}

// buildClaim assembles a claim whose every path uses all-zero siblings, so
// each root is derived with ComputeRoot from the level below.
func buildClaim(exit *BridgeExit, gi GlobalIndex) (Claim, Hash) {
	var claim Claim
	ler := claim.ProofLeafLER.ComputeRoot(exit.Hash(), gi.LeafIndex)
	claim.LocalExitRoot = ler
	if gi.MainnetFlag {
		claim.L1Leaf.MainnetExitRoot = ler
		claim.L1Leaf.RollupExitRoot = HexToHash("0x77")
	} else {
		claim.ProofLERToRER = &MerkleProof{}
		claim.L1Leaf.RollupExitRoot = claim.ProofLERToRER.ComputeRoot(ler, gi.RollupIndex)
		claim.L1Leaf.MainnetExitRoot = HexToHash("0x66")
	}
	claim.L1Leaf.L1InfoTreeIndex = 9
	claim.L1Leaf.Inner = L1InfoTreeLeafInner{
		GlobalExitRoot: claim.L1Leaf.GlobalExitRoot(),
		BlockHash:      HexToHash("0x55"),
		Timestamp:      1700000000,
	}
	root := claim.ProofGERToL1Root.ComputeRoot(claim.L1Leaf.Inner.Hash(), claim.L1Leaf.L1InfoTreeIndex)
	return claim, root
}

func TestImportedBridgeExitVerify(t *testing.T) {
	for _, gi := range []GlobalIndex{
		{MainnetFlag: true, LeafIndex: 5},
		{RollupIndex: 2, LeafIndex: 11},
	} {
		exit := testExit(10)
		claim, root := buildClaim(&exit, gi)
		ibe := &ImportedBridgeExit{BridgeExit: exit, GlobalIndex: gi, ClaimData: claim}
		if err := ibe.Verify(root); err != nil {
			t.Fatalf("gi %+v: unexpected error: %v", gi, err)
		}
		if err := ibe.Verify(HexToHash("0x01")); !errors.Is(err, ErrClaimL1InfoTreePath) {
			t.Fatalf("gi %+v: wrong root: got %v", gi, err)
		}
	}
}

func TestImportedBridgeExitVerifyFailures(t *testing.T) {
	exit := testExit(10)
	gi := GlobalIndex{RollupIndex: 1, LeafIndex: 4}
	claim, root := buildClaim(&exit, gi)

	tampered := exit
	tampered.Amount = uint256.NewInt(11)
	ibe := &ImportedBridgeExit{BridgeExit: tampered, GlobalIndex: gi, ClaimData: claim}
	if err := ibe.Verify(root); !errors.Is(err, ErrClaimLeafPath) {
		t.Fatalf("tampered leaf: got %v", err)
	}

	noRER := claim
	noRER.ProofLERToRER = nil
	ibe = &ImportedBridgeExit{BridgeExit: exit, GlobalIndex: gi, ClaimData: noRER}
	if err := ibe.Verify(root); !errors.Is(err, ErrClaimMissingRERPath) {
		t.Fatalf("missing rer path: got %v", err)
	}

	badGER := claim
	badGER.L1Leaf.MainnetExitRoot = HexToHash("0x99")
	ibe = &ImportedBridgeExit{BridgeExit: exit, GlobalIndex: gi, ClaimData: badGER}
	if err := ibe.Verify(root); !errors.Is(err, ErrClaimGlobalExitRoot) {
		t.Fatalf("bad ger: got %v", err)
	}

	mainnetGI := GlobalIndex{MainnetFlag: true, LeafIndex: 4}
	mainnetClaim, mainnetRoot := buildClaim(&exit, mainnetGI)
	mainnetClaim.ProofLERToRER = &MerkleProof{}
	ibe = &ImportedBridgeExit{BridgeExit: exit, GlobalIndex: mainnetGI, ClaimData: mainnetClaim}
	if err := ibe.Verify(mainnetRoot); !errors.Is(err, ErrClaimUnexpectedRER) {
		t.Fatalf("unexpected rer path: got %v", err)
	}
}

func TestCertificateJSONAggchainData(t *testing.T) {
	variants := []AggchainData{
		&LegacyEcdsa{Signature: []byte{1, 2, 3}},
		&MultisigOnly{Multisig: Multisig{Signatures: [][]byte{{1}, nil, {2}}}},
		&AggchainProofOnly{Proof: AggchainProof{Proof: []byte{9}, AggchainParams: HexToHash("0x42")}},
		&MultisigAndAggchainProof{
			Multisig: Multisig{Signatures: [][]byte{{4}}},
			Proof:    AggchainProof{Proof: []byte{8}},
		},
	}
	for _, data := range variants {
		c := &Certificate{NetworkID: 3, Height: 1, BridgeExits: []BridgeExit{testExit(1)}, AggchainData: data}
		raw, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("%s: marshal: %v", data.Kind(), err)
		}
		var got Certificate
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("%s: unmarshal: %v", data.Kind(), err)
		}
		if got.AggchainData == nil || got.AggchainData.Kind() != data.Kind() {
			t.Fatalf("%s: kind lost in round trip", data.Kind())
		}
		if got.ID() != c.ID() {
			t.Fatalf("%s: id changed in round trip", data.Kind())
		}
		if got.BridgeExits[0].Hash() != c.BridgeExits[0].Hash() {
			t.Fatalf("%s: bridge exit changed in round trip", data.Kind())
		}
	}

	var c Certificate
	if err := json.Unmarshal([]byte(`{"aggchain_data":{"kind":"bogus","data":{}}}`), &c); err == nil {
		t.Fatal("expected error for unknown aggchain kind")
	}
}

func TestCertificateValidateBasic(t *testing.T) {
	c := &Certificate{}
	if err := c.ValidateBasic(); !errors.Is(err, ErrNilAggchainData) {
		t.Fatalf("got %v, want ErrNilAggchainData", err)
	}
	c.AggchainData = &LegacyEcdsa{}
	c.BridgeExits = []BridgeExit{{}}
	if err := c.ValidateBasic(); !errors.Is(err, ErrNilAmount) {
		t.Fatalf("got %v, want ErrNilAmount", err)
	}
	c.BridgeExits[0].Amount = uint256.NewInt(0)
	if err := c.ValidateBasic(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type kindErr struct{}

func (kindErr) Error() string { return "kind" }

func (kindErr) StatusError() *CertificateStatusError {
	return &CertificateStatusError{Kind: "Test.Kind", Message: "kind", Retryable: true}
}

func TestStatusErrorFrom(t *testing.T) {
	if StatusErrorFrom(nil) != nil {
		t.Fatal("nil error should map to nil")
	}
	se := StatusErrorFrom(fmt.Errorf("wrapped: %w", kindErr{}))
	if se.Kind != "Test.Kind" || !se.Retryable {
		t.Fatalf("unexpected status error %+v", se)
	}
	se = StatusErrorFrom(errors.New("boom"))
	if se.Kind != "InternalError" || se.Retryable {
		t.Fatalf("unexpected fallback %+v", se)
	}
}

func TestHeaderReplaceable(t *testing.T) {
	h := NewPendingHeader(&Certificate{NetworkID: 1})
	if !h.IsReplaceable() {
		t.Fatal("pending header should be replaceable")
	}
	for _, s := range []CertificateStatus{StatusProven, StatusCandidate, StatusSettled, StatusFinalized} {
		h.Status = s
		if h.IsReplaceable() {
			t.Fatalf("%s header should not be replaceable", s)
		}
	}
	h.Status = StatusInError
	h.Error = &CertificateStatusError{Kind: "InternalError"}
	if h.IsReplaceable() {
		t.Fatal("non-retryable error should block replacement")
	}
	h.Error.Retryable = true
	if !h.IsReplaceable() {
		t.Fatal("retryable error should allow replacement")
	}
	cpy := h.Copy()
	cpy.Error.Kind = "Other"
	if h.Error.Kind == "Other" {
		t.Fatal("Copy should be deep")
	}
}

func TestCertificateStatusText(t *testing.T) {
	for s := StatusPending; s <= StatusInError; s++ {
		text, _ := s.MarshalText()
		var got CertificateStatus
		if err := got.UnmarshalText(text); err != nil || got != s {
			t.Fatalf("status %s: got %s, %v", s, got, err)
		}
	}
}
