// Package certifier turns a certificate into a proven state transition: it
// builds the witness, checks the transition natively, obtains a proof from
// the prover and verifies it before handing back the new network state.
package certifier

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/prover"
	"github.com/eth2030/aggsettle/transition"
)

// Collaborator lookup failures. Fetchers wrap these so the certifier can
// classify the error.
var (
	ErrNoAggchainContext = errors.New("certifier: no aggchain context for network")
	ErrNoL1InfoRoot      = errors.New("certifier: no l1 info root for leaf count")
)

// L1InfoRootFetcher resolves the L1 info root that closes the L1 info tree
// at a given leaf count.
type L1InfoRootFetcher interface {
	L1InfoRoot(ctx context.Context, leafCount uint32) (types.Hash, error)
}

// AggchainContextFetcher returns the authorization parameters registered on
// L1 for a network.
type AggchainContextFetcher interface {
	AggchainContext(ctx context.Context, network types.NetworkID) (*aggchain.Context, error)
}

// Output is the result of a successful certification.
type Output struct {
	NetworkID types.NetworkID
	Height    types.Height
	Proof     types.Proof
	// NewState is the network state once the certificate settles. It is
	// staged by the caller until then.
	NewState *transition.LocalNetworkState
	Output   *transition.PessimisticProofOutput
}

// Certifier certifies certificates against a prover backend.
type Certifier struct {
	prover   prover.Prover
	verifier *aggchain.Verifier
	l1Info   L1InfoRootFetcher
	contexts AggchainContextFetcher
	log      *log.Logger
}

// New creates a certifier.
func New(p prover.Prover, verifier *aggchain.Verifier, l1Info L1InfoRootFetcher, contexts AggchainContextFetcher, logger *log.Logger) *Certifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Certifier{
		prover:   p,
		verifier: verifier,
		l1Info:   l1Info,
		contexts: contexts,
		log:      logger.Module("certifier"),
	}
}

// Certify checks cert against state and proves it. state is not modified;
// on success the returned output carries the state the certificate leads to.
func (c *Certifier) Certify(ctx context.Context, state *transition.LocalNetworkState, cert *types.Certificate) (*Output, error) {
	ctx, span := otel.Tracer("aggsettle/certifier").Start(ctx, "certify")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("network", int64(cert.NetworkID)),
		attribute.Int64("height", int64(cert.Height)),
	)

	out, err := c.certify(ctx, state, cert)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Info("certification failed", "network", cert.NetworkID, "height", cert.Height, "err", err)
		return nil, err
	}
	return out, nil
}

func (c *Certifier) certify(ctx context.Context, state *transition.LocalNetworkState, cert *types.Certificate) (*Output, error) {
	fail := func(kind ErrorKind, err error) error {
		return &CertificationError{Kind: kind, Network: cert.NetworkID, Height: cert.Height, Err: err}
	}

	actx, err := c.contexts.AggchainContext(ctx, cert.NetworkID)
	if err != nil {
		if errors.Is(err, ErrNoAggchainContext) {
			return nil, fail(KindTrustedSequencerNotFound, err)
		}
		return nil, fail(KindInternalError, err)
	}

	var l1InfoRoot types.Hash
	if cert.L1InfoTreeLeafCount > 0 || len(cert.ImportedBridgeExits) > 0 {
		if l1InfoRoot, err = c.l1Info.L1InfoRoot(ctx, cert.L1InfoTreeLeafCount); err != nil {
			return nil, fail(KindL1InfoRootNotFound, err)
		}
	}

	w, next, err := transition.BuildWitness(state, cert, l1InfoRoot, actx)
	if err != nil {
		return nil, fail(KindNativeExecutionFailed, err)
	}
	expected, err := transition.Execute(state.Roots(), w, c.verifier)
	if err != nil {
		return nil, fail(KindNativeExecutionFailed, err)
	}

	proof, err := c.prover.Prove(ctx, w)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case errors.Is(err, prover.ErrProofEncoding):
			return nil, fail(KindSerialize, err)
		default:
			return nil, fail(KindProverExecutionFailed, err)
		}
	}
	if err := c.prover.Verify(ctx, proof, expected); err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case errors.Is(err, prover.ErrProofDecoding):
			return nil, fail(KindDeserialize, err)
		default:
			return nil, fail(KindProofVerificationFailed, err)
		}
	}

	next.RootVersion = expected.RootVersion
	c.log.Debug("certificate proven", "network", cert.NetworkID, "height", cert.Height,
		"new_pessimistic_root", expected.NewPessimisticRoot, "version", expected.RootVersion)
	return &Output{
		NetworkID: cert.NetworkID,
		Height:    cert.Height,
		Proof:     proof,
		NewState:  next,
		Output:    expected,
	}, nil
}

// VerifyProof re-checks a stored proof for an already-certified
// certificate. It performs no writes, so repeated calls agree.
func (c *Certifier) VerifyProof(ctx context.Context, proof types.Proof, out *transition.PessimisticProofOutput) error {
	if err := c.prover.Verify(ctx, proof, out); err != nil {
		if errors.Is(err, prover.ErrProofDecoding) {
			return &CertificationError{Kind: KindDeserialize, Network: out.OriginNetwork, Height: out.Height, Err: err}
		}
		return &CertificationError{Kind: KindProofVerificationFailed, Network: out.OriginNetwork, Height: out.Height, Err: err}
	}
	return nil
}

// StaticContexts is an AggchainContextFetcher backed by a fixed table,
// used for networks configured locally.
type StaticContexts map[types.NetworkID]*aggchain.Context

// AggchainContext implements AggchainContextFetcher.
func (s StaticContexts) AggchainContext(_ context.Context, network types.NetworkID) (*aggchain.Context, error) {
	actx, ok := s[network]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrNoAggchainContext, network)
	}
	return actx, nil
}
