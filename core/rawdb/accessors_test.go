package rawdb

import (
	"errors"
	"testing"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/testutil"
	"github.com/eth2030/aggsettle/transition"
)

func TestCertificateEncoding(t *testing.T) {
	n := testutil.NewNetwork(t, 2)
	imports, _ := testutil.MainnetImports(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 2, 9)})
	imports[0].ClaimData.ProofLERToRER = nil
	base := n.Certificate(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 3, 4)}, imports)
	base.CustomChainData = []byte{0xca, 0xfe}

	variants := []types.AggchainData{
		base.AggchainData,
		&types.MultisigOnly{Multisig: types.Multisig{Signatures: [][]byte{{1, 2}, nil, {3}}}},
		&types.AggchainProofOnly{Proof: types.AggchainProof{Proof: []byte{7}, AggchainParams: types.HexToHash("0x42")}},
		&types.MultisigAndAggchainProof{
			Multisig: types.Multisig{Signatures: [][]byte{nil, {5}}},
			Proof:    types.AggchainProof{Proof: []byte{8}},
		},
	}
	for _, data := range variants {
		cert := *base
		cert.AggchainData = data
		enc, err := EncodeCertificate(&cert)
		if err != nil {
			t.Fatalf("%s: encode: %v", data.Kind(), err)
		}
		got, err := DecodeCertificate(enc)
		if err != nil {
			t.Fatalf("%s: decode: %v", data.Kind(), err)
		}
		if got.ID() != cert.ID() || got.AggchainData.Kind() != data.Kind() {
			t.Fatalf("%s: identity lost", data.Kind())
		}
		if got.CommitImportedBridgeExits() != cert.CommitImportedBridgeExits() {
			t.Fatalf("%s: imported exits changed", data.Kind())
		}
		if got.ImportedBridgeExits[0].ClaimData.ProofLERToRER != nil {
			t.Fatalf("%s: absent rollup path decoded as present", data.Kind())
		}
		if got.BridgeExits[0].Hash() != cert.BridgeExits[0].Hash() {
			t.Fatalf("%s: bridge exit changed", data.Kind())
		}
		if string(got.CustomChainData) != string(cert.CustomChainData) {
			t.Fatalf("%s: custom chain data lost", data.Kind())
		}
	}
	ms, _ := DecodeCertificate(mustEncode(t, &types.Certificate{AggchainData: variants[1]}))
	if sigs := ms.AggchainData.(*types.MultisigOnly).Multisig; sigs.Present() != 2 {
		t.Fatalf("present signatures = %d, want 2", sigs.Present())
	}
}

func mustEncode(t *testing.T, c *types.Certificate) []byte {
	t.Helper()
	enc, err := EncodeCertificate(c)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func TestHeaderEncodingOptionalZero(t *testing.T) {
	h := types.NewPendingHeader(&types.Certificate{NetworkID: 1, Height: 3})
	enc, _ := EncodeHeader(h)
	got, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EpochNumber != nil || got.CertificateIndex != nil || got.SettlementBlock != nil || got.SettlementTxHash != nil || got.Error != nil {
		t.Fatalf("absent fields decoded as present: %+v", got)
	}

	zeroEpoch, zeroIndex, zeroBlock := types.EpochNumber(0), types.CertificateIndex(0), uint64(0)
	tx := types.HexToHash("0xabc")
	h.EpochNumber, h.CertificateIndex, h.SettlementBlock, h.SettlementTxHash = &zeroEpoch, &zeroIndex, &zeroBlock, &tx
	h.Status = types.StatusInError
	h.Error = &types.CertificateStatusError{Kind: "SettlementError.Timeout", Message: "late", Retryable: false}
	enc, _ = EncodeHeader(h)
	got, err = DecodeHeader(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EpochNumber == nil || *got.EpochNumber != 0 || got.CertificateIndex == nil || got.SettlementBlock == nil {
		t.Fatal("present zero values decoded as absent")
	}
	if *got.SettlementTxHash != tx || got.Status != types.StatusInError || *got.Error != *h.Error {
		t.Fatalf("header fields changed: %+v", got)
	}
}

func TestNetworkStateAccessors(t *testing.T) {
	db := NewMemoryDB()
	if _, err := ReadNetworkState(db, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	n := testutil.NewNetwork(t, 1)
	imports, l1Root := testutil.MainnetImports(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 1, 30)})
	n.Advance(t, n.Certificate(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 4, 10)}, imports), l1Root)

	if err := WriteNetworkState(db, 1, n.State); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadNetworkState(db, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Roots() != n.State.Roots() || got.RootVersion != aggchain.VersionV3 {
		t.Fatal("state roots changed in round trip")
	}
	balance, err := got.BalanceTree.Balance(testutil.ForeignToken)
	if err != nil || balance.Uint64() != 20 {
		t.Fatalf("balance = %v, %v; want 20", balance, err)
	}
	key := imports[0].GlobalIndex.NullifierKey()
	if spent, _ := got.NullifierTree.IsSpent(key); !spent {
		t.Fatal("nullifier lost in round trip")
	}
}

func TestProvenAndIndexAccessors(t *testing.T) {
	db := NewMemoryDB()
	id := types.HexToHash("0x1d")
	rec := &ProvenRecord{
		State:  transition.NewLocalNetworkState(),
		Output: &transition.PessimisticProofOutput{OriginNetwork: 5, Height: 2, NewPessimisticRoot: types.HexToHash("0x99")},
	}
	if err := WriteProven(db, id, rec); err != nil {
		t.Fatalf("write proven: %v", err)
	}
	got, err := ReadProven(db, id)
	if err != nil || *got.Output != *rec.Output {
		t.Fatalf("read proven: %+v, %v", got, err)
	}

	WriteRootIndex(db, 5, rec.Output.NewPessimisticRoot, id)
	if got, err := ReadRootIndex(db, 5, rec.Output.NewPessimisticRoot); err != nil || got != id {
		t.Fatalf("root index = %s, %v", got, err)
	}
	if _, err := ReadRootIndex(db, 6, rec.Output.NewPessimisticRoot); !errors.Is(err, ErrNotFound) {
		t.Fatal("root index must be scoped by network")
	}
}

func TestEpochAccessors(t *testing.T) {
	db := NewMemoryDB()
	ids := []types.CertificateID{types.HexToHash("0x01"), types.HexToHash("0x02")}
	if err := WriteEpoch(db, 7, ids); err != nil {
		t.Fatalf("write epoch: %v", err)
	}
	if err := WriteEpoch(db, 8, nil); err != nil {
		t.Fatalf("write empty epoch: %v", err)
	}
	for _, e := range []types.EpochNumber{7, 8} {
		if ok, _ := HasEpoch(db, e); !ok {
			t.Fatalf("epoch %d not recorded", e)
		}
	}
	if size, _ := ReadEpochSize(db, 8); size != 0 {
		t.Fatalf("empty epoch size = %d", size)
	}
	if id, err := ReadEpochEntry(db, 7, 1); err != nil || id != ids[1] {
		t.Fatalf("entry = %s, %v", id, err)
	}
	if _, err := ReadLatestEpoch(db); !errors.Is(err, ErrNotFound) {
		t.Fatalf("latest epoch before marker: %v", err)
	}
	if err := WriteLatestEpoch(db, 8); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if latest, _ := ReadLatestEpoch(db); latest != 8 {
		t.Fatalf("latest epoch = %d, want 8", latest)
	}
}

func TestIterateHeaders(t *testing.T) {
	db := NewMemoryDB()
	for h := types.Height(0); h < 3; h++ {
		hdr := types.NewPendingHeader(&types.Certificate{NetworkID: 1, Height: h})
		if err := WriteHeader(db, hdr); err != nil {
			t.Fatal(err)
		}
	}
	seen := 0
	if err := IterateHeaders(db, func(*types.CertificateHeader) bool { seen++; return true }); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if seen != 3 {
		t.Fatalf("iterated %d headers, want 3", seen)
	}
	id, err := ReadHeaderIDByHeight(db, 1, 2)
	if err != nil || id != (&types.Certificate{NetworkID: 1, Height: 2}).ID() {
		t.Fatalf("height index = %s, %v", id, err)
	}
}

func TestHeaderStatusIndex(t *testing.T) {
	db := NewMemoryDB()
	var hdrs []*types.CertificateHeader
	for h := types.Height(0); h < 3; h++ {
		hdr := types.NewPendingHeader(&types.Certificate{NetworkID: 1, Height: h})
		if err := WriteHeader(db, hdr); err != nil {
			t.Fatal(err)
		}
		hdrs = append(hdrs, hdr)
	}
	if err := DeleteHeaderStatus(db, hdrs[0].CertificateID, types.StatusPending); err != nil {
		t.Fatal(err)
	}
	hdrs[0].Status = types.StatusSettled
	if err := WriteHeader(db, hdrs[0]); err != nil {
		t.Fatal(err)
	}
	if err := DeleteHeader(db, hdrs[1]); err != nil {
		t.Fatal(err)
	}

	ids, err := ReadHeaderIDsByStatus(db, types.StatusPending)
	if err != nil || len(ids) != 1 || ids[0] != hdrs[2].CertificateID {
		t.Fatalf("pending ids = %v, %v", ids, err)
	}
	if n, err := CountHeadersByStatus(db, types.StatusSettled); err != nil || n != 1 {
		t.Fatalf("settled count = %d, %v", n, err)
	}
	if n, _ := CountHeadersByStatus(db, types.StatusInError); n != 0 {
		t.Fatalf("in error count = %d", n)
	}
	if _, err := ReadHeader(db, hdrs[1].CertificateID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted header: %v", err)
	}
}
