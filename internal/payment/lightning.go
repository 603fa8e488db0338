package payment

import (
	"context"
	"fmt"

	"github.com/mbd888/agentchat/internal/validation"
)

// LightningVerifier accepts Lightning payment hashes on format alone.
// Coinos exposes no public API for verifying incoming payments, so the
// hash is checked for shape and the record is marked pending until a
// moderator reconciles it by hand.
type LightningVerifier struct{}

// NewLightningVerifier creates a format-only verifier.
func NewLightningVerifier() *LightningVerifier {
	return &LightningVerifier{}
}

// Verify validates the payment hash format. Valid hashes produce a
// pending verdict; the payment is not confirmed on any ledger.
func (v *LightningVerifier) Verify(ctx context.Context, paymentHash string) (Verdict, error) {
	if !validation.IsValidLightningHash(paymentHash) {
		return Verdict{Reason: "invalid lightning payment hash (must be 64-char hex)"}, nil
	}
	return Verdict{
		Valid:   true,
		Amount:  fmt.Sprintf("%d sats", HumanKeyPriceSats),
		Pending: true,
	}, nil
}
