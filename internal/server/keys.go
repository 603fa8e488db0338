package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentchat/internal/identity"
	"github.com/mbd888/agentchat/internal/logging"
	"github.com/mbd888/agentchat/internal/metrics"
	"github.com/mbd888/agentchat/internal/payment"
	"github.com/mbd888/agentchat/internal/validation"
)

// challengeHandler issues a registration puzzle (GET /api/challenge).
func (s *Server) challengeHandler(c *gin.Context) {
	ch, err := s.challenges.Generate()
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to generate challenge", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": ch})
}

// registerAgent handles POST /api/keys/agent. Free tier: no payment, no
// auth, TOS accepted by use of the API. Name is optional.
func (s *Server) registerAgent(c *gin.Context) {
	var req struct {
		Name            string `json:"name"`
		ChallengeNonce  string `json:"challenge_nonce"`
		ChallengeAnswer string `json:"challenge_answer"`
	}
	_ = c.ShouldBindJSON(&req) // empty body is a valid request

	if s.challenges != nil && !s.challenges.Solve(req.ChallengeNonce, req.ChallengeAnswer) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "challenge required",
			"hint":  "GET /api/challenge, then retry with challenge_nonce and challenge_answer",
		})
		return
	}

	acct, err := s.identity.RegisterAgent(c.Request.Context(), req.Name)
	if err != nil {
		s.registrationError(c, err)
		return
	}

	metrics.KeysIssuedTotal.WithLabelValues(identity.TierAgent).Inc()
	c.JSON(http.StatusCreated, gin.H{
		"key":      acct.Key,
		"name":     acct.Name,
		"is_agent": true,
		"tos":      "https://agentchat.ink/api/tos",
	})
}

// registerHuman handles POST /api/keys/human: verify the payment claim,
// consume it in the ledger, then create the account. The ledger insert
// is the serialization point — a transaction buys exactly one key. If
// account creation fails afterwards, the ledger entry is released so the
// payment isn't burned.
func (s *Server) registerHuman(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Name     string `json:"name"`
		AgreeTOS bool   `json:"agree_tos"`
		payment.Claim
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cleanName := validation.SanitizeName(req.Name)
	if cleanName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required (2-50 chars, alphanumeric)"})
		return
	}
	if validation.IsReservedName(cleanName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "that name is reserved"})
		return
	}
	if !req.AgreeTOS {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "You must agree to the Terms of Service. Send agree_tos: true",
			"tos":   tosText,
		})
		return
	}
	if req.TxRef == "" || len(req.TxRef) > validation.MaxTxRefLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid tx_hash required"})
		return
	}

	// Courtesy pre-checks before spending a verification round trip. Both
	// are re-checked by storage constraints, so races are still safe.
	if _, err := s.identity.Store().GetByName(ctx, cleanName); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "name already taken"})
		return
	}
	if _, err := s.payments.Ledger().Get(ctx, req.TxRef); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "this transaction has already been used"})
		return
	}

	verdict, err := s.payments.Verify(ctx, req.Claim)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnknownMethod):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": `method must be "onchain", "btc", or "lightning"`,
				"hint":  "for onchain, also send network (base|ethereum) and token (eth|usdc|usdt|dai)",
			})
		case errors.Is(err, payment.ErrProviderDegraded):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment verification temporarily unavailable, try again shortly"})
		default:
			logging.L(ctx).Error("payment verification failed", "method", req.Method, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}
	if !verdict.Valid {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment not verified", "reason": verdict.Reason})
		return
	}

	rec, err := s.payments.Consume(ctx, req.Claim, verdict)
	if err != nil {
		if errors.Is(err, payment.ErrTxConsumed) {
			c.JSON(http.StatusConflict, gin.H{"error": "this transaction has already been used"})
			return
		}
		logging.L(ctx).Error("failed to consume payment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	acct, err := s.identity.RegisterHuman(ctx, cleanName)
	if err != nil {
		if relErr := s.payments.Release(ctx, rec.TxRef); relErr != nil {
			logging.L(ctx).Error("failed to release payment after registration failure",
				"tx_ref", rec.TxRef, "error", relErr)
		}
		s.registrationError(c, err)
		return
	}

	if err := s.payments.AttachKey(ctx, rec.TxRef, acct.Key); err != nil {
		logging.L(ctx).Warn("failed to attach key to payment", "tx_ref", rec.TxRef, "error", err)
	}

	metrics.KeysIssuedTotal.WithLabelValues(identity.TierHuman).Inc()
	logging.L(ctx).Info("human key issued", "name", acct.Name, "method", rec.Method, "amount", rec.Amount)

	resp := gin.H{
		"key":      acct.Key,
		"name":     acct.Name,
		"is_agent": false,
		"paid":     true,
	}
	if verdict.Pending {
		resp["note"] = "lightning payment accepted on format validation"
	} else if verdict.Network != "" {
		resp["verified"] = verdict.Amount + " on " + verdict.Network
	} else {
		resp["verified"] = verdict.Amount
	}
	c.JSON(http.StatusCreated, resp)
}

// registrationError maps identity errors to API responses.
func (s *Server) registrationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 2-50 chars, alphanumeric"})
	case errors.Is(err, identity.ErrReservedName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "that name is reserved"})
	case errors.Is(err, identity.ErrNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "name already taken"})
	default:
		logging.L(c.Request.Context()).Error("registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create key"})
	}
}
