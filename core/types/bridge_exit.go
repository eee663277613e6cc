package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// LeafType distinguishes asset transfers from message leaves. Both may move
// value; messages carry it in the gas token of the origin network.
type LeafType uint8

const (
	LeafTypeTransfer LeafType = iota
	LeafTypeMessage
)

// String implements fmt.Stringer.
func (l LeafType) String() string {
	switch l {
	case LeafTypeTransfer:
		return "transfer"
	case LeafTypeMessage:
		return "message"
	default:
		return fmt.Sprintf("leaf_type(%d)", uint8(l))
	}
}

// BridgeExit is an outgoing transfer or message, appended to the local exit
// tree of the network that emits it.
type BridgeExit struct {
	LeafType           LeafType     `json:"leaf_type"`
	TokenInfo          TokenInfo    `json:"token_info"`
	DestinationNetwork NetworkID    `json:"dest_network"`
	DestinationAddress Address      `json:"dest_address"`
	Amount             *uint256.Int `json:"amount"`
	Metadata           []byte       `json:"metadata,omitempty"`
}

// MetadataHash returns keccak(metadata).
func (be *BridgeExit) MetadataHash() Hash {
	return keccak256(be.Metadata)
}

// Hash returns the exit tree leaf of the bridge exit:
// keccak(leafType ‖ originNetwork ‖ originAddress ‖ destNetwork ‖ destAddress ‖ amount ‖ keccak(metadata)).
func (be *BridgeExit) Hash() Hash {
	amount := be.Amount
	if amount == nil {
		amount = new(uint256.Int)
	}
	amountBytes := amount.Bytes32()
	metadataHash := be.MetadataHash()
	return keccak256(
		[]byte{uint8(be.LeafType)},
		u32BE(uint32(be.TokenInfo.OriginNetwork)),
		be.TokenInfo.OriginTokenAddress[:],
		u32BE(uint32(be.DestinationNetwork)),
		be.DestinationAddress[:],
		amountBytes[:],
		metadataHash[:],
	)
}

// AmountOrZero returns the exit amount, treating nil as zero.
func (be *BridgeExit) AmountOrZero() *uint256.Int {
	if be.Amount == nil {
		return new(uint256.Int)
	}
	return be.Amount
}

// GlobalIndex locates an exit leaf across every network's exit tree.
type GlobalIndex struct {
	MainnetFlag bool   `json:"mainnet_flag"`
	RollupIndex uint32 `json:"rollup_index"`
	LeafIndex   uint32 `json:"leaf_index"`
}

// NetworkID returns the network that emitted the exit.
func (g GlobalIndex) NetworkID() NetworkID {
	if g.MainnetFlag {
		return MainnetNetworkID
	}
	return NetworkID(g.RollupIndex + 1)
}

// U256 encodes the index the way the bridge contract does: bit 64 is the
// mainnet flag, bits 32..63 the rollup index, bits 0..31 the leaf index.
func (g GlobalIndex) U256() *uint256.Int {
	v := new(uint256.Int).SetUint64(uint64(g.RollupIndex)<<32 | uint64(g.LeafIndex))
	if g.MainnetFlag {
		v.Or(v, new(uint256.Int).Lsh(uint256.NewInt(1), 64))
	}
	return v
}

// Hash returns keccak of the 32-byte big-endian encoding of the index.
func (g GlobalIndex) Hash() Hash {
	b := g.U256().Bytes32()
	return keccak256(b[:])
}

// NullifierKey returns the nullifier tree key consumed by claiming the exit.
func (g GlobalIndex) NullifierKey() NullifierKey {
	return NullifierKey{NetworkID: g.NetworkID(), LetIndex: g.LeafIndex}
}

// NullifierKey identifies a claimed exit: the emitting network and the leaf
// index in that network's local exit tree.
type NullifierKey struct {
	NetworkID NetworkID `json:"network_id"`
	LetIndex  uint32    `json:"let_index"`
}

// L1InfoTreeLeafInner is the hashed part of an L1 info tree leaf.
type L1InfoTreeLeafInner struct {
	GlobalExitRoot Hash   `json:"global_exit_root"`
	BlockHash      Hash   `json:"block_hash"`
	Timestamp      uint64 `json:"timestamp"`
}

// Hash returns keccak(globalExitRoot ‖ blockHash ‖ timestamp).
func (l *L1InfoTreeLeafInner) Hash() Hash {
	return keccak256(l.GlobalExitRoot[:], l.BlockHash[:], u64BE(l.Timestamp))
}

// L1InfoTreeLeaf is a leaf of the L1 info tree together with the two exit
// roots its global exit root commits to.
type L1InfoTreeLeaf struct {
	L1InfoTreeIndex uint32              `json:"l1_info_tree_index"`
	RollupExitRoot  Hash                `json:"rer"`
	MainnetExitRoot Hash                `json:"mer"`
	Inner           L1InfoTreeLeafInner `json:"inner"`
}

// GlobalExitRoot recomputes keccak(mainnetExitRoot ‖ rollupExitRoot).
func (l *L1InfoTreeLeaf) GlobalExitRoot() Hash {
	return keccak256(l.MainnetExitRoot[:], l.RollupExitRoot[:])
}

// Claim errors.
var (
	ErrClaimLeafPath       = errors.New("claim: exit leaf not included in local exit root")
	ErrClaimMissingRERPath = errors.New("claim: rollup claim without local-to-rollup exit root path")
	ErrClaimUnexpectedRER  = errors.New("claim: mainnet claim carries a rollup exit root path")
	ErrClaimRERPath        = errors.New("claim: local exit root not included in rollup exit root")
	ErrClaimMainnetRoot    = errors.New("claim: local exit root does not match mainnet exit root")
	ErrClaimGlobalExitRoot = errors.New("claim: global exit root mismatch")
	ErrClaimL1InfoTreePath = errors.New("claim: leaf not included in l1 info root")
)

// Claim proves that an exit leaf was committed, through its network's local
// exit root, to a leaf of the L1 info tree.
type Claim struct {
	// LocalExitRoot is the sending network's exit root the leaf is proven against.
	LocalExitRoot Hash `json:"local_exit_root"`
	// ProofLeafLER proves the exit leaf against LocalExitRoot.
	ProofLeafLER MerkleProof `json:"proof_leaf_ler"`
	// ProofLERToRER proves LocalExitRoot against the rollup exit root.
	// Nil for mainnet claims.
	ProofLERToRER *MerkleProof `json:"proof_ler_rer,omitempty" rlp:"nil"`
	// ProofGERToL1Root proves the L1 info leaf against the L1 info root.
	ProofGERToL1Root MerkleProof    `json:"proof_ger_l1root"`
	L1Leaf           L1InfoTreeLeaf `json:"l1_leaf"`
}

// ImportedBridgeExit is a claim of a foreign exit into the importing network.
type ImportedBridgeExit struct {
	BridgeExit  BridgeExit  `json:"bridge_exit"`
	GlobalIndex GlobalIndex `json:"global_index"`
	ClaimData   Claim       `json:"claim_data"`
}

// Verify checks the full inclusion chain of the imported exit:
// leaf → local exit root → (rollup exit root) → global exit root → L1 info root.
func (ibe *ImportedBridgeExit) Verify(l1InfoRoot Hash) error {
	claim := &ibe.ClaimData
	leaf := ibe.BridgeExit.Hash()
	if !claim.ProofLeafLER.Verify(leaf, ibe.GlobalIndex.LeafIndex, claim.LocalExitRoot) {
		return ErrClaimLeafPath
	}
	if ibe.GlobalIndex.MainnetFlag {
		if claim.ProofLERToRER != nil {
			return ErrClaimUnexpectedRER
		}
		if claim.LocalExitRoot != claim.L1Leaf.MainnetExitRoot {
			return ErrClaimMainnetRoot
		}
	} else {
		if claim.ProofLERToRER == nil {
			return ErrClaimMissingRERPath
		}
		if !claim.ProofLERToRER.Verify(claim.LocalExitRoot, ibe.GlobalIndex.RollupIndex, claim.L1Leaf.RollupExitRoot) {
			return ErrClaimRERPath
		}
	}
	if claim.L1Leaf.GlobalExitRoot() != claim.L1Leaf.Inner.GlobalExitRoot {
		return ErrClaimGlobalExitRoot
	}
	if !claim.ProofGERToL1Root.Verify(claim.L1Leaf.Inner.Hash(), claim.L1Leaf.L1InfoTreeIndex, l1InfoRoot) {
		return ErrClaimL1InfoTreePath
	}
	return nil
}

// SendingNetwork returns the network the imported exit was emitted on.
func (ibe *ImportedBridgeExit) SendingNetwork() NetworkID {
	return ibe.GlobalIndex.NetworkID()
}

// CommitmentHash binds the global index to the exit contents and is what the
// signed commitment over imported exits is built from.
func (ibe *ImportedBridgeExit) CommitmentHash() Hash {
	gi := ibe.GlobalIndex.U256().Bytes32()
	leaf := ibe.BridgeExit.Hash()
	return keccak256(gi[:], leaf[:])
}
