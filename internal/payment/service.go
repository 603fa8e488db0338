package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbd888/agentchat/internal/metrics"
	"github.com/mbd888/agentchat/internal/traces"
	"github.com/mbd888/agentchat/internal/validation"
)

// Service dispatches claims to the right rail verifier and owns the
// consumed-transaction ledger.
type Service struct {
	evm       *EVMVerifier
	btc       *BTCVerifier
	lightning *LightningVerifier
	ledger    Store
}

// NewService wires the three rail verifiers to a ledger store.
func NewService(evm *EVMVerifier, btc *BTCVerifier, lightning *LightningVerifier, ledger Store) *Service {
	return &Service{evm: evm, btc: btc, lightning: lightning, ledger: ledger}
}

// Ledger exposes the underlying store.
func (s *Service) Ledger() Store { return s.ledger }

// Verify runs rail-appropriate verification for a claim. It is read-only:
// the ledger is untouched, so a verified claim can still lose the race to
// Consume. Format problems surface as invalid verdicts, not errors.
func (s *Service) Verify(ctx context.Context, claim Claim) (Verdict, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Verify",
		traces.Method(claim.Method), traces.TxRef(claim.TxRef))
	defer span.End()

	switch claim.Method {
	case MethodOnChain:
		if !validation.IsValidEVMTxHash(claim.TxRef) {
			return Verdict{Reason: "invalid tx hash format (must be 0x + 64 hex chars)"}, nil
		}
		network := claim.Network
		if network == "" {
			network = "base"
		}
		token := claim.Token
		if token == "" {
			token = "usdc"
		}
		v, err := s.evm.Verify(ctx, claim.TxRef, network, token)
		s.observe("evm", v, err)
		return v, err

	case MethodBTC:
		if !validation.IsValidBTCTxID(claim.TxRef) {
			return Verdict{Reason: "invalid BTC txid format (must be 64 hex chars)"}, nil
		}
		v, err := s.btc.Verify(ctx, claim.TxRef)
		s.observe("btc", v, err)
		return v, err

	case MethodLightning:
		v, err := s.lightning.Verify(ctx, claim.TxRef)
		s.observe("lightning", v, err)
		return v, err

	default:
		return Verdict{}, fmt.Errorf("%w: %q", ErrUnknownMethod, claim.Method)
	}
}

func (s *Service) observe(rail string, v Verdict, err error) {
	switch {
	case err != nil:
		metrics.PaymentVerificationsTotal.WithLabelValues(rail, "error").Inc()
	case v.Valid:
		metrics.PaymentVerificationsTotal.WithLabelValues(rail, "valid").Inc()
	default:
		metrics.PaymentVerificationsTotal.WithLabelValues(rail, "invalid").Inc()
	}
}

// Consume records a verified claim in the ledger. The tx_ref uniqueness
// constraint is the anti-replay serialization point: exactly one caller
// wins for a given transaction, every other concurrent attempt gets
// ErrTxConsumed.
func (s *Service) Consume(ctx context.Context, claim Claim, verdict Verdict) (*Record, error) {
	rec := &Record{
		TxRef:    claim.TxRef,
		Method:   methodLabel(claim),
		Amount:   verdict.Amount,
		Verified: !verdict.Pending,
	}
	if err := s.ledger.Consume(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Release undoes a Consume when account creation afterwards failed
// (for example the name was taken in the meantime). Without this a
// failed registration would burn the payment.
func (s *Service) Release(ctx context.Context, txRef string) error {
	return s.ledger.Release(ctx, txRef)
}

// AttachKey links the issued key to the consumed payment for audit.
func (s *Service) AttachKey(ctx context.Context, txRef, key string) error {
	return s.ledger.AttachKey(ctx, txRef, key)
}

// CountVerified reports how many confirmed payments the ledger holds.
func (s *Service) CountVerified(ctx context.Context) (int, error) {
	return s.ledger.CountVerified(ctx)
}

// methodLabel is stored in the ledger: "usdc_base", "btc", "lightning".
func methodLabel(claim Claim) string {
	if claim.Method != MethodOnChain {
		return claim.Method
	}
	network := claim.Network
	if network == "" {
		network = "base"
	}
	token := claim.Token
	if token == "" {
		token = "usdc"
	}
	return strings.ToLower(token + "_" + network)
}
