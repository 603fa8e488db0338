// Package validation provides input validation for the agentchat API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (10KB, chat bodies are small)
const MaxRequestSize = 10 << 10

const (
	// MinNameLength and MaxNameLength bound account names.
	MinNameLength = 2
	MaxNameLength = 50

	// MaxContentLength bounds a single chat message.
	MaxContentLength = 2000

	// MaxKeyLength is a sanity bound on presented API keys.
	MaxKeyLength = 100

	// MaxTxRefLength is a sanity bound on claimed transaction references.
	MaxTxRefLength = 200
)

var (
	// nameStripRegex removes everything outside the allowed name alphabet
	nameStripRegex = regexp.MustCompile(`[^\w\s\-.]`)
	// evmTxHashRegex validates EVM transaction hashes
	evmTxHashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	// btcTxIDRegex validates Bitcoin transaction ids
	btcTxIDRegex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	// lightningHashRegex validates Lightning payment hashes
	lightningHashRegex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

// reservedNames are permanently unavailable regardless of sanitization.
var reservedNames = map[string]bool{
	"admin":     true,
	"system":    true,
	"agentchat": true,
	"moderator": true,
	"mod":       true,
	"server":    true,
	"bot":       true,
	"root":      true,
	"operator":  true,
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeName strips control characters and anything outside the allowed
// alphabet (word chars, spaces, dash, dot), then enforces length bounds.
// Returns "" if the result is unusable.
func SanitizeName(name string) string {
	clean := strings.TrimSpace(nameStripRegex.ReplaceAllString(name, ""))
	if len(clean) < MinNameLength || len(clean) > MaxNameLength {
		return ""
	}
	return clean
}

// IsReservedName reports whether a (sanitized) name is reserved.
// The check is case-insensitive.
func IsReservedName(name string) bool {
	return reservedNames[strings.ToLower(name)]
}

// IsValidEVMTxHash checks 0x + 64 hex chars.
func IsValidEVMTxHash(hash string) bool {
	return evmTxHashRegex.MatchString(hash)
}

// IsValidBTCTxID checks 64 hex chars.
func IsValidBTCTxID(txid string) bool {
	return btcTxIDRegex.MatchString(txid)
}

// IsValidLightningHash checks for a 64-char hex payment hash.
func IsValidLightningHash(hash string) bool {
	return lightningHashRegex.MatchString(hash)
}

// SanitizeString removes null bytes, trims whitespace, and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
