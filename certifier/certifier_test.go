package certifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
	"github.com/eth2030/aggsettle/prover"
	"github.com/eth2030/aggsettle/testutil"
	"github.com/eth2030/aggsettle/transition"
	"github.com/eth2030/aggsettle/tree"
)

type l1Roots map[uint32]types.Hash

func (r l1Roots) L1InfoRoot(_ context.Context, leafCount uint32) (types.Hash, error) {
	root, ok := r[leafCount]
	if !ok {
		return types.Hash{}, fmt.Errorf("%w %d", ErrNoL1InfoRoot, leafCount)
	}
	return root, nil
}

// stubProver returns fixed errors and otherwise delegates to a local prover.
type stubProver struct {
	inner     prover.Prover
	proveErr  error
	verifyErr error
}

func (s *stubProver) Prove(ctx context.Context, w *transition.Witness) (types.Proof, error) {
	if s.proveErr != nil {
		return nil, s.proveErr
	}
	return s.inner.Prove(ctx, w)
}

func (s *stubProver) Verify(ctx context.Context, proof types.Proof, out *transition.PessimisticProofOutput) error {
	if s.verifyErr != nil {
		return s.verifyErr
	}
	return s.inner.Verify(ctx, proof, out)
}

func setup(t *testing.T) (*testutil.Network, *stubProver, l1Roots, *Certifier) {
	t.Helper()
	n := testutil.NewNetwork(t, 1)
	key, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	verifier := aggchain.NewVerifier(nil)
	p := &stubProver{inner: prover.NewLocal(verifier, key)}
	roots := l1Roots{}
	c := New(p, verifier, roots, StaticContexts{n.ID: n.Context()}, nil)
	return n, p, roots, c
}

func TestCertifyEmptyCertificate(t *testing.T) {
	n, _, _, c := setup(t)
	cert := n.Certificate(t, nil, nil)

	out, err := c.Certify(context.Background(), n.State, cert)
	if err != nil {
		t.Fatalf("Certify: %v", err)
	}
	if out.NetworkID != 1 || out.Height != 0 {
		t.Fatalf("unexpected output identity %d/%d", out.NetworkID, out.Height)
	}
	if got := out.NewState.ExitTree.Root(); got != tree.EmptyExitRoot() {
		t.Fatalf("new exit root = %s, want empty root", got)
	}
	if out.NewState.RootVersion != aggchain.VersionV3 {
		t.Fatalf("root version = %s, want v3", out.NewState.RootVersion)
	}
	if n.State.RootVersion != aggchain.VersionNone {
		t.Fatal("input state was modified")
	}
	for i := 0; i < 2; i++ {
		if err := c.VerifyProof(context.Background(), out.Proof, out.Output); err != nil {
			t.Fatalf("re-verification %d: %v", i, err)
		}
	}
}

func TestCertifyWithImports(t *testing.T) {
	n, _, roots, c := setup(t)
	imports, l1Root := testutil.MainnetImports(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 1, 40)})
	cert := n.Certificate(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 2, 15)}, imports)

	if _, err := c.Certify(context.Background(), n.State, cert); !errors.Is(err, ErrL1InfoRootNotFound) {
		t.Fatalf("missing l1 info root: got %v", err)
	}

	roots[1] = l1Root
	out, err := c.Certify(context.Background(), n.State, cert)
	if err != nil {
		t.Fatalf("Certify: %v", err)
	}
	balance, err := out.NewState.BalanceTree.Balance(testutil.ForeignToken)
	if err != nil || balance.Uint64() != 25 {
		t.Fatalf("balance = %v, %v; want 25", balance, err)
	}
}

func TestCertifyErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*testing.T, *testutil.Network, *stubProver, *types.Certificate) *types.Certificate
		want      error
		retryable bool
	}{
		{
			name: "unknown network",
			mutate: func(_ *testing.T, n *testutil.Network, _ *stubProver, cert *types.Certificate) *types.Certificate {
				cert.NetworkID = 77
				return cert
			},
			want: ErrTrustedSequencerNotFound,
		},
		{
			name: "underflow",
			mutate: func(t *testing.T, n *testutil.Network, _ *stubProver, _ *types.Certificate) *types.Certificate {
				return n.Certificate(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 2, 1)}, nil)
			},
			want:      ErrNativeExecutionFailed,
			retryable: true,
		},
		{
			name: "prover failure",
			mutate: func(_ *testing.T, _ *testutil.Network, p *stubProver, cert *types.Certificate) *types.Certificate {
				p.proveErr = errors.New("backend down")
				return cert
			},
			want:      ErrProverExecutionFailed,
			retryable: true,
		},
		{
			name: "proof encoding",
			mutate: func(_ *testing.T, _ *testutil.Network, p *stubProver, cert *types.Certificate) *types.Certificate {
				p.proveErr = prover.ErrProofEncoding
				return cert
			},
			want:      ErrSerialize,
			retryable: true,
		},
		{
			name: "verification failure",
			mutate: func(_ *testing.T, _ *testutil.Network, p *stubProver, cert *types.Certificate) *types.Certificate {
				p.verifyErr = prover.ErrInvalidAttestation
				return cert
			},
			want:      ErrProofVerificationFailed,
			retryable: true,
		},
		{
			name: "proof decoding",
			mutate: func(_ *testing.T, _ *testutil.Network, p *stubProver, cert *types.Certificate) *types.Certificate {
				p.verifyErr = prover.ErrProofDecoding
				return cert
			},
			want:      ErrDeserialize,
			retryable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, p, _, c := setup(t)
			cert := tt.mutate(t, n, p, n.Certificate(t, nil, nil))
			_, err := c.Certify(context.Background(), n.State, cert)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			se := types.StatusErrorFrom(err)
			if !strings.HasPrefix(se.Kind, "CertificationError.") || se.Retryable != tt.retryable {
				t.Fatalf("unexpected status error %+v", se)
			}
		})
	}
}

func TestNativeFailureCarriesProofKind(t *testing.T) {
	n, _, _, c := setup(t)
	cert := n.Certificate(t, []types.BridgeExit{testutil.Exit(testutil.ForeignToken, 2, 1)}, nil)
	_, err := c.Certify(context.Background(), n.State, cert)
	if !errors.Is(err, transition.ErrBalanceUnderflow) {
		t.Fatalf("got %v, want underflow cause", err)
	}
	se := types.StatusErrorFrom(err)
	if se.Kind != "CertificationError.NativeExecutionFailed.ProofError.BalanceUnderflow" {
		t.Fatalf("status kind = %q", se.Kind)
	}
	if !strings.Contains(se.Message, "has debt") {
		t.Fatalf("status message %q should mention debt", se.Message)
	}
}

func TestCertifyCancelled(t *testing.T) {
	n, p, _, c := setup(t)
	p.proveErr = context.Canceled
	_, err := c.Certify(context.Background(), n.State, n.Certificate(t, nil, nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	var ce *CertificationError
	if errors.As(err, &ce) {
		t.Fatal("cancellation must not be reported as a certification failure")
	}
}

func TestPreCertificationError(t *testing.T) {
	err := fmt.Errorf("task: %w", &PreCertificationError{Kind: KindProofAlreadyExists, CertificateID: types.HexToHash("0x01")})
	if !errors.Is(err, ErrProofAlreadyExists) || errors.Is(err, ErrCertificateNotFound) {
		t.Fatalf("kind matching broken for %v", err)
	}
	if se := types.StatusErrorFrom(err); se.Kind != "PreCertificationError.ProofAlreadyExists" {
		t.Fatalf("status kind = %q", se.Kind)
	}
}
