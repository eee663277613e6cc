package rawdb

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/transition"
	"github.com/eth2030/aggsettle/tree"
)

var ErrUnknownAggchainKind = errors.New("rawdb: unknown aggchain data kind")

// storedCertificate is the RLP layout of a certificate. The aggchain data
// sum type is flattened to its kind tag and the encoding of the variant.
type storedCertificate struct {
	NetworkID           uint32
	Height              uint64
	PrevLocalExitRoot   types.Hash
	NewLocalExitRoot    types.Hash
	BridgeExits         []types.BridgeExit
	ImportedBridgeExits []types.ImportedBridgeExit
	AggchainKind        uint8
	AggchainData        []byte
	Metadata            types.Hash
	L1InfoTreeLeafCount uint32
	CustomChainData     []byte
}

// EncodeCertificate returns the RLP encoding of c.
func EncodeCertificate(c *types.Certificate) ([]byte, error) {
	if c.AggchainData == nil {
		return nil, types.ErrNilAggchainData
	}
	data, err := rlp.EncodeToBytes(c.AggchainData)
	if err != nil {
		return nil, fmt.Errorf("rawdb: encode aggchain data: %w", err)
	}
	return rlp.EncodeToBytes(&storedCertificate{
		NetworkID:           uint32(c.NetworkID),
		Height:              uint64(c.Height),
		PrevLocalExitRoot:   c.PrevLocalExitRoot,
		NewLocalExitRoot:    c.NewLocalExitRoot,
		BridgeExits:         c.BridgeExits,
		ImportedBridgeExits: c.ImportedBridgeExits,
		AggchainKind:        uint8(c.AggchainData.Kind()),
		AggchainData:        data,
		Metadata:            c.Metadata,
		L1InfoTreeLeafCount: c.L1InfoTreeLeafCount,
		CustomChainData:     c.CustomChainData,
	})
}

// DecodeCertificate decodes a certificate written by EncodeCertificate.
func DecodeCertificate(enc []byte) (*types.Certificate, error) {
	var sc storedCertificate
	if err := rlp.DecodeBytes(enc, &sc); err != nil {
		return nil, fmt.Errorf("rawdb: decode certificate: %w", err)
	}
	var data types.AggchainData
	switch types.AggchainKind(sc.AggchainKind) {
	case types.AggchainKindLegacyEcdsa:
		data = new(types.LegacyEcdsa)
	case types.AggchainKindMultisigOnly:
		data = new(types.MultisigOnly)
	case types.AggchainKindAggchainProofOnly:
		data = new(types.AggchainProofOnly)
	case types.AggchainKindMultisigAndAggchainProof:
		data = new(types.MultisigAndAggchainProof)
	default:
		return nil, fmt.Errorf("%w %d", ErrUnknownAggchainKind, sc.AggchainKind)
	}
	if err := rlp.DecodeBytes(sc.AggchainData, data); err != nil {
		return nil, fmt.Errorf("rawdb: decode aggchain data: %w", err)
	}
	return &types.Certificate{
		NetworkID:           types.NetworkID(sc.NetworkID),
		Height:              types.Height(sc.Height),
		PrevLocalExitRoot:   sc.PrevLocalExitRoot,
		NewLocalExitRoot:    sc.NewLocalExitRoot,
		BridgeExits:         sc.BridgeExits,
		ImportedBridgeExits: sc.ImportedBridgeExits,
		AggchainData:        data,
		Metadata:            sc.Metadata,
		L1InfoTreeLeafCount: sc.L1InfoTreeLeafCount,
		CustomChainData:     sc.CustomChainData,
	}, nil
}

// optionalUint wraps an optional integer so that a present zero stays
// distinguishable from an absent value.
type optionalUint struct {
	Value uint64
}

func wrapUint(v *uint64) *optionalUint {
	if v == nil {
		return nil
	}
	return &optionalUint{Value: *v}
}

func (o *optionalUint) unwrap() *uint64 {
	if o == nil {
		return nil
	}
	v := o.Value
	return &v
}

// storedHeader is the RLP layout of a certificate header.
type storedHeader struct {
	CertificateID      types.Hash
	NetworkID          uint32
	Height             uint64
	EpochNumber        *optionalUint `rlp:"nil"`
	CertificateIndex   *optionalUint `rlp:"nil"`
	PrevLocalExitRoot  types.Hash
	NewLocalExitRoot   types.Hash
	NewPessimisticRoot types.Hash
	Metadata           types.Hash
	Status             uint8
	Error              *types.CertificateStatusError `rlp:"nil"`
	SettlementTxHash   *types.Hash                   `rlp:"nil"`
	SettlementBlock    *optionalUint                 `rlp:"nil"`
}

// EncodeHeader returns the RLP encoding of h.
func EncodeHeader(h *types.CertificateHeader) ([]byte, error) {
	sh := &storedHeader{
		CertificateID:      h.CertificateID,
		NetworkID:          uint32(h.NetworkID),
		Height:             uint64(h.Height),
		PrevLocalExitRoot:  h.PrevLocalExitRoot,
		NewLocalExitRoot:   h.NewLocalExitRoot,
		NewPessimisticRoot: h.NewPessimisticRoot,
		Metadata:           h.Metadata,
		Status:             uint8(h.Status),
		Error:              h.Error,
		SettlementTxHash:   h.SettlementTxHash,
		SettlementBlock:    wrapUint(h.SettlementBlock),
	}
	if h.EpochNumber != nil {
		sh.EpochNumber = &optionalUint{Value: uint64(*h.EpochNumber)}
	}
	if h.CertificateIndex != nil {
		sh.CertificateIndex = &optionalUint{Value: uint64(*h.CertificateIndex)}
	}
	return rlp.EncodeToBytes(sh)
}

// DecodeHeader decodes a header written by EncodeHeader.
func DecodeHeader(enc []byte) (*types.CertificateHeader, error) {
	var sh storedHeader
	if err := rlp.DecodeBytes(enc, &sh); err != nil {
		return nil, fmt.Errorf("rawdb: decode header: %w", err)
	}
	h := &types.CertificateHeader{
		CertificateID:      sh.CertificateID,
		NetworkID:          types.NetworkID(sh.NetworkID),
		Height:             types.Height(sh.Height),
		PrevLocalExitRoot:  sh.PrevLocalExitRoot,
		NewLocalExitRoot:   sh.NewLocalExitRoot,
		NewPessimisticRoot: sh.NewPessimisticRoot,
		Metadata:           sh.Metadata,
		Status:             types.CertificateStatus(sh.Status),
		Error:              sh.Error,
		SettlementTxHash:   sh.SettlementTxHash,
		SettlementBlock:    sh.SettlementBlock.unwrap(),
	}
	if sh.EpochNumber != nil {
		e := types.EpochNumber(sh.EpochNumber.Value)
		h.EpochNumber = &e
	}
	if sh.CertificateIndex != nil {
		i := types.CertificateIndex(sh.CertificateIndex.Value)
		h.CertificateIndex = &i
	}
	return h, nil
}

// storedState is the RLP layout of a local network state: the exit tree
// frontier and the reachable nodes of both sparse trees.
type storedState struct {
	LeafCount      uint32
	Frontier       [types.ExitTreeDepth]types.Hash
	BalanceRoot    types.Hash
	BalanceNodes   []tree.NodeEntry
	NullifierRoot  types.Hash
	NullifierNodes []tree.NodeEntry
	RootVersion    uint8
}

func toStoredState(s *transition.LocalNetworkState) (*storedState, error) {
	balanceNodes, err := s.BalanceTree.Nodes()
	if err != nil {
		return nil, fmt.Errorf("rawdb: export balance tree: %w", err)
	}
	nullifierNodes, err := s.NullifierTree.Nodes()
	if err != nil {
		return nil, fmt.Errorf("rawdb: export nullifier tree: %w", err)
	}
	return &storedState{
		LeafCount:      s.ExitTree.LeafCount,
		Frontier:       s.ExitTree.Frontier,
		BalanceRoot:    s.BalanceTree.Root(),
		BalanceNodes:   balanceNodes,
		NullifierRoot:  s.NullifierTree.Root(),
		NullifierNodes: nullifierNodes,
		RootVersion:    uint8(s.RootVersion),
	}, nil
}

func (ss *storedState) state() (*transition.LocalNetworkState, error) {
	balances, err := tree.LoadLocalBalanceTree(ss.BalanceRoot, ss.BalanceNodes)
	if err != nil {
		return nil, fmt.Errorf("rawdb: load balance tree: %w", err)
	}
	nullifiers, err := tree.LoadNullifierTree(ss.NullifierRoot, ss.NullifierNodes)
	if err != nil {
		return nil, fmt.Errorf("rawdb: load nullifier tree: %w", err)
	}
	return &transition.LocalNetworkState{
		ExitTree:      tree.LocalExitTree{LeafCount: ss.LeafCount, Frontier: ss.Frontier},
		BalanceTree:   balances,
		NullifierTree: nullifiers,
		RootVersion:   aggchain.Version(ss.RootVersion),
	}, nil
}

// EncodeNetworkState returns the RLP encoding of s.
func EncodeNetworkState(s *transition.LocalNetworkState) ([]byte, error) {
	ss, err := toStoredState(s)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(ss)
}

// DecodeNetworkState decodes a state written by EncodeNetworkState and
// checks that every tree node is present.
func DecodeNetworkState(enc []byte) (*transition.LocalNetworkState, error) {
	var ss storedState
	if err := rlp.DecodeBytes(enc, &ss); err != nil {
		return nil, fmt.Errorf("rawdb: decode network state: %w", err)
	}
	return ss.state()
}

// ProvenRecord is what certification stages until the certificate settles:
// the state it leads to and the output its proof attests to.
type ProvenRecord struct {
	State  *transition.LocalNetworkState
	Output *transition.PessimisticProofOutput
}

type storedProven struct {
	State  storedState
	Output transition.PessimisticProofOutput
}

// EncodeProven returns the RLP encoding of r.
func EncodeProven(r *ProvenRecord) ([]byte, error) {
	ss, err := toStoredState(r.State)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&storedProven{State: *ss, Output: *r.Output})
}

// DecodeProven decodes a record written by EncodeProven.
func DecodeProven(enc []byte) (*ProvenRecord, error) {
	var sp storedProven
	if err := rlp.DecodeBytes(enc, &sp); err != nil {
		return nil, fmt.Errorf("rawdb: decode proven record: %w", err)
	}
	state, err := sp.State.state()
	if err != nil {
		return nil, err
	}
	out := sp.Output
	return &ProvenRecord{State: state, Output: &out}, nil
}

// storedSettled is the RLP layout of types.SettledCertificate.
type storedSettled struct {
	CertificateID types.Hash
	Height        uint64
	Epoch         uint64
	Index         uint64
}

// EncodeSettled returns the RLP encoding of s.
func EncodeSettled(s *types.SettledCertificate) ([]byte, error) {
	return rlp.EncodeToBytes(&storedSettled{
		CertificateID: s.CertificateID,
		Height:        uint64(s.Height),
		Epoch:         uint64(s.Epoch),
		Index:         uint64(s.Index),
	})
}

// DecodeSettled decodes a record written by EncodeSettled.
func DecodeSettled(enc []byte) (*types.SettledCertificate, error) {
	var ss storedSettled
	if err := rlp.DecodeBytes(enc, &ss); err != nil {
		return nil, fmt.Errorf("rawdb: decode settled certificate: %w", err)
	}
	return &types.SettledCertificate{
		CertificateID: ss.CertificateID,
		Height:        types.Height(ss.Height),
		Epoch:         types.EpochNumber(ss.Epoch),
		Index:         types.CertificateIndex(ss.Index),
	}, nil
}
