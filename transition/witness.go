package transition

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/tree"
)

// ImportedExitWitness pairs an imported exit with the path proving its
// nullifier unset at the point it is consumed.
type ImportedExitWitness struct {
	Exit          types.ImportedBridgeExit
	NullifierPath tree.SmtProof
}

// BalanceWitness opens the balance of one token before the certificate is
// applied. Paths are valid against the balance root as updated by every
// preceding entry.
type BalanceWitness struct {
	Token   types.TokenInfo
	Balance *uint256.Int
	Path    tree.SmtProof
}

// Witness is everything needed to replay a certificate against the
// root-only view of its network.
type Witness struct {
	OriginNetwork types.NetworkID
	Height        types.Height

	PrevExitTree      tree.LocalExitTree
	PrevLocalExitRoot types.Hash
	PrevBalanceRoot   types.Hash
	PrevNullifierRoot types.Hash
	PrevRootVersion   aggchain.Version

	BridgeExits         []types.BridgeExit
	ImportedBridgeExits []ImportedExitWitness
	BalanceProofs       []BalanceWitness

	L1InfoRoot          types.Hash
	L1InfoTreeLeafCount uint32

	AggchainData    types.AggchainData
	AggchainContext aggchain.Context

	NewLocalExitRoot types.Hash
	NewBalanceRoot   types.Hash
	NewNullifierRoot types.Hash
}

// InitialState returns the root-only view the witness was built against.
func (w *Witness) InitialState() NetworkState {
	return NetworkState{
		ExitTree:      w.PrevExitTree,
		BalanceRoot:   w.PrevBalanceRoot,
		NullifierRoot: w.PrevNullifierRoot,
	}
}

// CommitmentInput returns the data signed by the network for this witness.
func (w *Witness) CommitmentInput() *aggchain.CommitmentInput {
	hashes := make([][]byte, 0, len(w.ImportedBridgeExits))
	for i := range w.ImportedBridgeExits {
		h := w.ImportedBridgeExits[i].Exit.CommitmentHash()
		hashes = append(hashes, h[:])
	}
	return &aggchain.CommitmentInput{
		NetworkID:                 w.OriginNetwork,
		Height:                    w.Height,
		NewLocalExitRoot:          w.NewLocalExitRoot,
		CommitImportedBridgeExits: types.Keccak256Hash(hashes...),
	}
}

// balanceSheet accumulates per-token balance changes in order of first
// touch.
type balanceSheet struct {
	order []types.TokenInfo
	old   map[types.TokenInfo]*uint256.Int
	cur   map[types.TokenInfo]*uint256.Int
}

func newBalanceSheet() *balanceSheet {
	return &balanceSheet{
		old: make(map[types.TokenInfo]*uint256.Int),
		cur: make(map[types.TokenInfo]*uint256.Int),
	}
}

func (b *balanceSheet) seed(token types.TokenInfo, balance *uint256.Int) bool {
	if _, ok := b.old[token]; ok {
		return false
	}
	b.order = append(b.order, token)
	b.old[token] = new(uint256.Int).Set(balance)
	b.cur[token] = new(uint256.Int).Set(balance)
	return true
}

func (b *balanceSheet) credit(token types.TokenInfo, amount *uint256.Int) *ProofError {
	cur, ok := b.cur[token]
	if !ok {
		return balanceErr(KindMissingTokenBalanceProof, token, nil)
	}
	if _, overflow := cur.AddOverflow(cur, amount); overflow {
		return balanceErr(KindBalanceOverflow, token, nil)
	}
	return nil
}

func (b *balanceSheet) debit(token types.TokenInfo, amount *uint256.Int) *ProofError {
	cur, ok := b.cur[token]
	if !ok {
		return balanceErr(KindMissingTokenBalanceProof, token, nil)
	}
	if _, underflow := cur.SubOverflow(cur, amount); underflow {
		return balanceErr(KindBalanceUnderflow, token, nil)
	}
	return nil
}

// touchedTokens lists the non-native tokens moved by cert, in order of first
// appearance, imports before exits.
func touchedTokens(cert *types.Certificate) []types.TokenInfo {
	seen := make(map[types.TokenInfo]struct{})
	var out []types.TokenInfo
	add := func(t types.TokenInfo) {
		if t.IsNative(cert.NetworkID) {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for i := range cert.ImportedBridgeExits {
		add(cert.ImportedBridgeExits[i].BridgeExit.TokenInfo)
	}
	for i := range cert.BridgeExits {
		add(cert.BridgeExits[i].TokenInfo)
	}
	return out
}

// BuildWitness computes the witness of cert against state. It returns the
// witness together with the state the certificate leads to; state itself is
// not modified. The returned state keeps the previous RootVersion until the
// caller learns the target version from execution.
func BuildWitness(state *LocalNetworkState, cert *types.Certificate, l1InfoRoot types.Hash, ctx *aggchain.Context) (*Witness, *LocalNetworkState, error) {
	work := state.Clone()
	w := &Witness{
		OriginNetwork:       cert.NetworkID,
		Height:              cert.Height,
		PrevExitTree:        state.ExitTree,
		PrevLocalExitRoot:   cert.PrevLocalExitRoot,
		PrevBalanceRoot:     state.BalanceTree.Root(),
		PrevNullifierRoot:   state.NullifierTree.Root(),
		PrevRootVersion:     state.RootVersion,
		BridgeExits:         append([]types.BridgeExit(nil), cert.BridgeExits...),
		L1InfoRoot:          l1InfoRoot,
		L1InfoTreeLeafCount: cert.L1InfoTreeLeafCount,
		AggchainData:        cert.AggchainData,
		NewLocalExitRoot:    cert.NewLocalExitRoot,
	}
	if ctx != nil {
		w.AggchainContext = *ctx
	}

	sheet := newBalanceSheet()
	for _, token := range touchedTokens(cert) {
		balance, err := work.BalanceTree.Balance(token)
		if err != nil {
			return nil, nil, balanceErr(KindInvalidBalancePath, token, err)
		}
		sheet.seed(token, balance)
	}

	w.ImportedBridgeExits = make([]ImportedExitWitness, 0, len(cert.ImportedBridgeExits))
	for i := range cert.ImportedBridgeExits {
		ibe := &cert.ImportedBridgeExits[i]
		key := ibe.GlobalIndex.NullifierKey()
		path, err := work.NullifierTree.NonInclusionProof(key)
		if err != nil {
			return nil, nil, proofErr(KindInvalidNullifierPath, i, err)
		}
		if err := work.NullifierTree.Mark(key); err != nil {
			return nil, nil, proofErr(KindInvalidNullifierPath, i, err)
		}
		w.ImportedBridgeExits = append(w.ImportedBridgeExits, ImportedExitWitness{Exit: *ibe, NullifierPath: path})
		if token := ibe.BridgeExit.TokenInfo; !token.IsNative(cert.NetworkID) {
			if perr := sheet.credit(token, ibe.BridgeExit.AmountOrZero()); perr != nil {
				return nil, nil, perr
			}
		}
	}

	for i := range cert.BridgeExits {
		be := &cert.BridgeExits[i]
		if _, err := work.ExitTree.AddLeaf(be.Hash()); err != nil {
			return nil, nil, proofErr(KindExitTreeFull, i, err)
		}
		if token := be.TokenInfo; !token.IsNative(cert.NetworkID) {
			if perr := sheet.debit(token, be.AmountOrZero()); perr != nil {
				return nil, nil, perr
			}
		}
	}

	w.BalanceProofs = make([]BalanceWitness, 0, len(sheet.order))
	for _, token := range sheet.order {
		path, err := work.BalanceTree.Proof(token)
		if err != nil {
			return nil, nil, balanceErr(KindInvalidBalancePath, token, err)
		}
		w.BalanceProofs = append(w.BalanceProofs, BalanceWitness{Token: token, Balance: sheet.old[token], Path: path})
		if err := work.BalanceTree.SetBalance(token, sheet.cur[token]); err != nil {
			return nil, nil, balanceErr(KindInvalidBalancePath, token, err)
		}
	}

	w.NewBalanceRoot = work.BalanceTree.Root()
	w.NewNullifierRoot = work.NullifierTree.Root()
	return w, work, nil
}
