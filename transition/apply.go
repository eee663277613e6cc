package transition

import (
	"errors"
	"fmt"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/tree"
)

var (
	errRootMismatch          = errors.New("root mismatch")
	errImportFromSelf        = errors.New("exit imported from its own network")
	errImportWrongDest       = errors.New("exit not destined to the importing network")
	errL1InfoIndexOutOfRange = errors.New("l1 info leaf index beyond declared leaf count")
	errNilBalance            = errors.New("nil balance")
)

func rootMismatch(kind ErrorKind, want, got types.Hash) *ProofError {
	return proofErr(kind, -1, fmt.Errorf("%w: declared %s, computed %s", errRootMismatch, want, got))
}

// Apply replays w against s and returns the resulting roots. s is not
// modified; on error nothing of the partial replay is observable.
func (s NetworkState) Apply(w *Witness) (*StateCommitment, error) {
	// Initial roots.
	if root := s.ExitTree.Root(); root != w.PrevLocalExitRoot {
		return nil, rootMismatch(KindInvalidInitialLocalExitRoot, w.PrevLocalExitRoot, root)
	}
	if s.BalanceRoot != w.PrevBalanceRoot {
		return nil, rootMismatch(KindInvalidInitialBalanceRoot, w.PrevBalanceRoot, s.BalanceRoot)
	}
	if s.NullifierRoot != w.PrevNullifierRoot {
		return nil, rootMismatch(KindInvalidInitialNullifierRoot, w.PrevNullifierRoot, s.NullifierRoot)
	}
	exitTree := s.ExitTree
	balanceRoot := s.BalanceRoot
	nullifierRoot := s.NullifierRoot

	// Working balances, seeded from the proven old values.
	sheet := newBalanceSheet()
	paths := make(map[types.TokenInfo]*tree.SmtProof, len(w.BalanceProofs))
	for i := range w.BalanceProofs {
		bp := &w.BalanceProofs[i]
		if bp.Balance == nil {
			return nil, balanceErr(KindInvalidBalancePath, bp.Token, errNilBalance)
		}
		if !sheet.seed(bp.Token, bp.Balance) {
			return nil, balanceErr(KindDuplicateTokenBalanceProof, bp.Token, nil)
		}
		paths[bp.Token] = &bp.Path
	}

	// Imported exits: check provenance, consume the nullifier, credit.
	for i := range w.ImportedBridgeExits {
		iw := &w.ImportedBridgeExits[i]
		ibe := &iw.Exit
		if ibe.SendingNetwork() == w.OriginNetwork {
			return nil, proofErr(KindInvalidImportedBridgeExitNetwork, i, errImportFromSelf)
		}
		if ibe.BridgeExit.DestinationNetwork != w.OriginNetwork {
			return nil, proofErr(KindInvalidImportedBridgeExitNetwork, i, errImportWrongDest)
		}
		if ibe.ClaimData.L1Leaf.L1InfoTreeIndex >= w.L1InfoTreeLeafCount {
			return nil, proofErr(KindInvalidImportedBridgeExitMerklePath, i, errL1InfoIndexOutOfRange)
		}
		if err := ibe.Verify(w.L1InfoRoot); err != nil {
			return nil, proofErr(KindInvalidImportedBridgeExitMerklePath, i, err)
		}
		next, err := tree.VerifyAndMarkNullifier(&iw.NullifierPath, ibe.GlobalIndex.NullifierKey(), nullifierRoot)
		if err != nil {
			return nil, proofErr(KindInvalidNullifierPath, i, err)
		}
		nullifierRoot = next
		if token := ibe.BridgeExit.TokenInfo; !token.IsNative(w.OriginNetwork) {
			if perr := sheet.credit(token, ibe.BridgeExit.AmountOrZero()); perr != nil {
				return nil, perr
			}
		}
	}

	// Outgoing exits: append the leaf, debit.
	for i := range w.BridgeExits {
		be := &w.BridgeExits[i]
		if be.DestinationNetwork == w.OriginNetwork {
			return nil, proofErr(KindExitToSameNetwork, i, nil)
		}
		if _, err := exitTree.AddLeaf(be.Hash()); err != nil {
			return nil, proofErr(KindExitTreeFull, i, err)
		}
		if token := be.TokenInfo; !token.IsNative(w.OriginNetwork) {
			if perr := sheet.debit(token, be.AmountOrZero()); perr != nil {
				return nil, perr
			}
		}
	}

	// Balance tree update, in witness order.
	for _, token := range sheet.order {
		next, err := tree.VerifyAndUpdateBalance(paths[token], token, sheet.old[token], sheet.cur[token], balanceRoot)
		if err != nil {
			return nil, balanceErr(KindInvalidBalancePath, token, err)
		}
		balanceRoot = next
	}

	// Final roots.
	exitRoot := exitTree.Root()
	if exitRoot != w.NewLocalExitRoot {
		return nil, rootMismatch(KindInvalidFinalLocalExitRoot, w.NewLocalExitRoot, exitRoot)
	}
	if balanceRoot != w.NewBalanceRoot {
		return nil, rootMismatch(KindInvalidFinalBalanceRoot, w.NewBalanceRoot, balanceRoot)
	}
	if nullifierRoot != w.NewNullifierRoot {
		return nil, rootMismatch(KindInvalidFinalNullifierRoot, w.NewNullifierRoot, nullifierRoot)
	}
	return &StateCommitment{
		ExitRoot:      exitRoot,
		LeafCount:     exitTree.LeafCount,
		BalanceRoot:   balanceRoot,
		NullifierRoot: nullifierRoot,
	}, nil
}

// Execute applies w to s, verifies the aggchain data and returns the
// output a pessimistic proof of the transition commits to.
func Execute(s NetworkState, w *Witness, verifier *aggchain.Verifier) (*PessimisticProofOutput, error) {
	commit, err := s.Apply(w)
	if err != nil {
		return nil, err
	}
	res, err := verifier.Verify(w.AggchainData, &w.AggchainContext, w.CommitmentInput(), w.PrevRootVersion)
	if err != nil {
		return nil, aggchainError(err)
	}
	var prevRoot types.Hash
	if w.PrevRootVersion != aggchain.VersionNone {
		prevRoot = aggchain.PessimisticRoot(w.PrevRootVersion, w.PrevBalanceRoot, w.PrevNullifierRoot, w.PrevExitTree.LeafCount, w.OriginNetwork)
	}
	return &PessimisticProofOutput{
		OriginNetwork:       w.OriginNetwork,
		Height:              w.Height,
		PrevLocalExitRoot:   w.PrevLocalExitRoot,
		PrevPessimisticRoot: prevRoot,
		L1InfoRoot:          w.L1InfoRoot,
		AggchainHash:        res.AggchainHash,
		NewLocalExitRoot:    commit.ExitRoot,
		NewPessimisticRoot:  aggchain.PessimisticRoot(res.TargetVersion, commit.BalanceRoot, commit.NullifierRoot, commit.LeafCount, w.OriginNetwork),
		RootVersion:         res.TargetVersion,
	}, nil
}

func aggchainError(err error) *ProofError {
	var invalidSig *aggchain.HasInvalidSignatureError
	switch {
	case errors.Is(err, aggchain.ErrUnknownAggchainData):
		return proofErr(KindUnknownAggchainData, -1, err)
	case errors.As(err, &invalidSig),
		errors.Is(err, aggchain.ErrOutOfBoundSignerIndex),
		errors.Is(err, aggchain.ErrUnderThreshold),
		errors.Is(err, aggchain.ErrInvalidMultisigConfig):
		return proofErr(KindInvalidMultisig, -1, err)
	case errors.Is(err, aggchain.ErrInconsistentSignedPayload):
		return proofErr(KindInconsistentSignedPayload, -1, err)
	case errors.Is(err, aggchain.ErrInvalidSignature):
		return proofErr(KindInvalidSignature, -1, err)
	default:
		return proofErr(KindInvalidAggchainProof, -1, err)
	}
}
