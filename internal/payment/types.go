// Package payment verifies crypto payments for human key issuance and
// records consumed transactions so a payment can only issue one key.
//
// Three rails are supported:
//   - onchain: native ETH or ERC-20 transfers on Base / Ethereum mainnet
//   - btc: Bitcoin on-chain, checked against the mempool.space API
//   - lightning: format-validated only, recorded as pending
package payment

import (
	"errors"
	"time"
)

// Payment methods accepted on the human-key endpoint
const (
	MethodOnChain   = "onchain"
	MethodBTC       = "btc"
	MethodLightning = "lightning"
)

// HumanKeyPriceSats is the quoted Lightning price for a human key.
const HumanKeyPriceSats = 1500

// TransferTopic is the keccak256 hash of Transfer(address,address,uint256).
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// MinBTCSats is the minimum accepted Bitcoin payment (roughly $0.50).
const MinBTCSats = 500

var (
	ErrTxConsumed       = errors.New("this transaction has already been used")
	ErrUnknownNetwork   = errors.New("unknown network")
	ErrUnknownToken     = errors.New("token not supported on network")
	ErrUnknownMethod    = errors.New("unknown payment method")
	ErrRecordNotFound   = errors.New("payment record not found")
	ErrProviderDegraded = errors.New("payment provider temporarily unavailable")
)

// Token describes an accepted asset on an EVM network.
type Token struct {
	Native    bool
	Contract  string // ERC-20 contract address, empty for native
	Decimals  int
	MinAmount float64 // human units
}

// Network describes an EVM network we verify payments on.
type Network struct {
	Name   string
	RPCURL string
	Tokens map[string]Token
}

// Networks lists the supported EVM networks keyed by their claim name.
// RPC URLs can be overridden per network via configuration.
var Networks = map[string]Network{
	"base": {
		Name:   "Base",
		RPCURL: "https://mainnet.base.org",
		Tokens: map[string]Token{
			"eth":  {Native: true, Decimals: 18, MinAmount: 0.0003},
			"usdc": {Contract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6, MinAmount: 1},
			"usdt": {Contract: "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2", Decimals: 6, MinAmount: 1},
			"dai":  {Contract: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18, MinAmount: 1},
		},
	},
	"ethereum": {
		Name:   "Ethereum",
		RPCURL: "https://eth.llamarpc.com",
		Tokens: map[string]Token{
			"eth":  {Native: true, Decimals: 18, MinAmount: 0.0003},
			"usdc": {Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, MinAmount: 1},
			"usdt": {Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6, MinAmount: 1},
			"dai":  {Contract: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18, MinAmount: 1},
		},
	},
}

// Claim is a payment a caller presents when requesting a human key.
type Claim struct {
	Method  string `json:"method"`
	TxRef   string `json:"tx_hash"`
	Network string `json:"network,omitempty"` // onchain only
	Token   string `json:"token,omitempty"`   // onchain only
}

// Verdict is the result of verifying a claim. Valid=false verdicts carry
// a caller-safe Reason; they are not errors, verification simply failed.
type Verdict struct {
	Valid   bool
	Reason  string
	Amount  string // human-readable, e.g. "1.5 USDC" or "0.00050000 BTC"
	Network string // display name, e.g. "Base"
	Pending bool   // true when the rail cannot confirm (lightning)
}

// Record is a consumed payment in the ledger.
type Record struct {
	TxRef     string    `json:"tx_ref"`
	Method    string    `json:"method"` // e.g. "usdc_base", "btc", "lightning"
	Amount    string    `json:"amount"`
	Key       string    `json:"-"` // issued key, attached after account creation
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}
