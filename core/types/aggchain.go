package types

import "fmt"

// AggchainKind tags the variants of AggchainData.
type AggchainKind uint8

const (
	AggchainKindLegacyEcdsa AggchainKind = iota
	AggchainKindMultisigOnly
	AggchainKindAggchainProofOnly
	AggchainKindMultisigAndAggchainProof
)

// String implements fmt.Stringer.
func (k AggchainKind) String() string {
	switch k {
	case AggchainKindLegacyEcdsa:
		return "legacy_ecdsa"
	case AggchainKindMultisigOnly:
		return "multisig_only"
	case AggchainKindAggchainProofOnly:
		return "aggchain_proof_only"
	case AggchainKindMultisigAndAggchainProof:
		return "multisig_and_aggchain_proof"
	default:
		return fmt.Sprintf("aggchain_kind(%d)", uint8(k))
	}
}

// AggchainData is the authorization attached to a certificate. It is a closed
// sum type: the only implementations are the four variants below, and
// consumers switch over them exhaustively.
type AggchainData interface {
	Kind() AggchainKind
	aggchainData()
}

// LegacyEcdsa authorizes a certificate with one signature by the network's
// trusted sequencer.
type LegacyEcdsa struct {
	Signature []byte `json:"signature"`
}

// MultisigOnly authorizes a certificate with a k-of-n signer set.
type MultisigOnly struct {
	Multisig Multisig `json:"multisig"`
}

// AggchainProofOnly authorizes a certificate with a proof of the network's
// own consensus.
type AggchainProofOnly struct {
	Proof AggchainProof `json:"aggchain_proof"`
}

// MultisigAndAggchainProof requires both a signer quorum and a consensus proof.
type MultisigAndAggchainProof struct {
	Multisig Multisig      `json:"multisig"`
	Proof    AggchainProof `json:"aggchain_proof"`
}

func (*LegacyEcdsa) Kind() AggchainKind { return AggchainKindLegacyEcdsa }

func (*MultisigOnly) Kind() AggchainKind { return AggchainKindMultisigOnly }

func (*AggchainProofOnly) Kind() AggchainKind { return AggchainKindAggchainProofOnly }

func (*MultisigAndAggchainProof) Kind() AggchainKind { return AggchainKindMultisigAndAggchainProof }

func (*LegacyEcdsa) aggchainData() {}

func (*MultisigOnly) aggchainData() {}

func (*AggchainProofOnly) aggchainData() {}

func (*MultisigAndAggchainProof) aggchainData() {}

// Multisig holds one optional 65-byte signature per expected signer, in the
// signer order registered on L1. A nil entry means that signer did not sign.
type Multisig struct {
	Signatures [][]byte `json:"signatures"`
}

// Present returns the number of non-empty signatures.
func (m *Multisig) Present() int {
	n := 0
	for _, sig := range m.Signatures {
		if len(sig) > 0 {
			n++
		}
	}
	return n
}

// AggchainProof is an opaque proof of the network's consensus together with
// the public parameters it was generated for.
type AggchainProof struct {
	Proof          []byte `json:"proof"`
	AggchainParams Hash   `json:"aggchain_params"`
}
