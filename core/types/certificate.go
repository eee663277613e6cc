package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CertificateID is the hash of a certificate's core fields and its primary
// key in every store.
type CertificateID = Hash

// Certificate is a state transition claimed by a network: the exits it
// emitted, the foreign exits it imported and the resulting exit root.
type Certificate struct {
	NetworkID           NetworkID            `json:"network_id"`
	Height              Height               `json:"height"`
	PrevLocalExitRoot   Hash                 `json:"prev_local_exit_root"`
	NewLocalExitRoot    Hash                 `json:"new_local_exit_root"`
	BridgeExits         []BridgeExit         `json:"bridge_exits"`
	ImportedBridgeExits []ImportedBridgeExit `json:"imported_bridge_exits"`
	AggchainData        AggchainData         `json:"-"`
	Metadata            Hash                 `json:"metadata"`
	// L1InfoTreeLeafCount selects the L1 info root imported exits are proven
	// against. Zero when the certificate imports nothing.
	L1InfoTreeLeafCount uint32 `json:"l1_info_tree_leaf_count"`
	// CustomChainData is forwarded untouched to the settlement call.
	CustomChainData []byte `json:"custom_chain_data,omitempty"`
}

// ID returns keccak(networkID ‖ height ‖ prevLocalExitRoot ‖ newLocalExitRoot)
// using big-endian fixed-width integers.
func (c *Certificate) ID() CertificateID {
	return keccak256(
		u32BE(uint32(c.NetworkID)),
		u64BE(uint64(c.Height)),
		c.PrevLocalExitRoot[:],
		c.NewLocalExitRoot[:],
	)
}

// CommitImportedBridgeExits returns keccak over the commitment hashes of all
// imported exits, in certificate order.
func (c *Certificate) CommitImportedBridgeExits() Hash {
	parts := make([][]byte, 0, len(c.ImportedBridgeExits))
	for i := range c.ImportedBridgeExits {
		h := c.ImportedBridgeExits[i].CommitmentHash()
		parts = append(parts, h[:])
	}
	return keccak256(parts...)
}

// Certificate validation errors.
var (
	ErrNilAggchainData = errors.New("certificate: missing aggchain data")
	ErrNilAmount       = errors.New("certificate: bridge exit without amount")
)

// ValidateBasic performs stateless shape checks before a certificate is
// accepted for processing.
func (c *Certificate) ValidateBasic() error {
	if c.AggchainData == nil {
		return ErrNilAggchainData
	}
	for i := range c.BridgeExits {
		if c.BridgeExits[i].Amount == nil {
			return fmt.Errorf("%w: bridge exit %d", ErrNilAmount, i)
		}
	}
	for i := range c.ImportedBridgeExits {
		if c.ImportedBridgeExits[i].BridgeExit.Amount == nil {
			return fmt.Errorf("%w: imported bridge exit %d", ErrNilAmount, i)
		}
	}
	return nil
}

// aggchainEnvelope is the JSON shape of AggchainData.
type aggchainEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// certificateJSON mirrors Certificate with the sum type replaced by its
// envelope.
type certificateJSON struct {
	certificateAlias
	AggchainData *aggchainEnvelope `json:"aggchain_data"`
}

type certificateAlias Certificate

// MarshalJSON implements json.Marshaler.
func (c Certificate) MarshalJSON() ([]byte, error) {
	out := certificateJSON{certificateAlias: certificateAlias(c)}
	if c.AggchainData != nil {
		data, err := json.Marshal(c.AggchainData)
		if err != nil {
			return nil, err
		}
		out.AggchainData = &aggchainEnvelope{Kind: c.AggchainData.Kind().String(), Data: data}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Certificate) UnmarshalJSON(input []byte) error {
	var in certificateJSON
	if err := json.Unmarshal(input, &in); err != nil {
		return err
	}
	*c = Certificate(in.certificateAlias)
	c.AggchainData = nil
	if in.AggchainData == nil {
		return nil
	}
	var target AggchainData
	switch in.AggchainData.Kind {
	case AggchainKindLegacyEcdsa.String():
		target = new(LegacyEcdsa)
	case AggchainKindMultisigOnly.String():
		target = new(MultisigOnly)
	case AggchainKindAggchainProofOnly.String():
		target = new(AggchainProofOnly)
	case AggchainKindMultisigAndAggchainProof.String():
		target = new(MultisigAndAggchainProof)
	default:
		return fmt.Errorf("certificate: unknown aggchain data kind %q", in.AggchainData.Kind)
	}
	if err := json.Unmarshal(in.AggchainData.Data, target); err != nil {
		return fmt.Errorf("certificate: aggchain data: %w", err)
	}
	c.AggchainData = target
	return nil
}
