package payment

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/agentchat/internal/circuitbreaker"
	"github.com/mbd888/agentchat/internal/logging"
)

// evmRPCTimeout bounds each RPC round trip
const evmRPCTimeout = 10 * time.Second

// EthClient abstracts the go-ethereum client for testing
type EthClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	Close()
}

// EVMVerifier verifies native and ERC-20 payments against public RPC
// endpoints. Clients are dialed lazily and cached per network; a circuit
// breaker per network keeps a flaky RPC from stalling every issuance.
type EVMVerifier struct {
	wallet common.Address

	mu      sync.Mutex
	clients map[string]EthClient
	dial    func(url string) (EthClient, error)

	rpcOverrides map[string]string
	breaker      *circuitbreaker.Breaker
}

// NewEVMVerifier creates a verifier that pays into wallet.
// rpcOverrides maps network key to a replacement RPC URL.
func NewEVMVerifier(wallet string, rpcOverrides map[string]string) *EVMVerifier {
	return &EVMVerifier{
		wallet:  common.HexToAddress(wallet),
		clients: make(map[string]EthClient),
		dial: func(url string) (EthClient, error) {
			return ethclient.Dial(url)
		},
		rpcOverrides: rpcOverrides,
		breaker:      circuitbreaker.New(5, 30*time.Second),
	}
}

// WithClient pre-seeds the client for a network (useful for testing).
func (v *EVMVerifier) WithClient(network string, client EthClient) *EVMVerifier {
	v.mu.Lock()
	v.clients[network] = client
	v.mu.Unlock()
	return v
}

func (v *EVMVerifier) client(network string) (EthClient, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if c, ok := v.clients[network]; ok {
		return c, nil
	}

	url := Networks[network].RPCURL
	if override, ok := v.rpcOverrides[network]; ok {
		url = override
	}
	c, err := v.dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", network, err)
	}
	v.clients[network] = c
	return c, nil
}

// Verify checks that txHash is a successful transaction paying at least
// the token's minimum to our wallet. Invalid payments return a Verdict
// with a reason; only infrastructure failures return an error.
func (v *EVMVerifier) Verify(ctx context.Context, txHash, network, token string) (Verdict, error) {
	net, ok := Networks[network]
	if !ok {
		return Verdict{Reason: "unknown network: " + network}, nil
	}
	tok, ok := net.Tokens[token]
	if !ok {
		return Verdict{Reason: fmt.Sprintf("%s not supported on %s", token, network)}, nil
	}

	if !v.breaker.Allow(network) {
		return Verdict{}, fmt.Errorf("%w: %s rpc circuit open", ErrProviderDegraded, network)
	}

	client, err := v.client(network)
	if err != nil {
		v.breaker.RecordFailure(network)
		return Verdict{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, evmRPCTimeout)
	defer cancel()

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		// "not found" is a bad claim, not a degraded provider
		if strings.Contains(err.Error(), "not found") {
			v.breaker.RecordSuccess(network)
			return Verdict{Reason: "tx failed or not found"}, nil
		}
		v.breaker.RecordFailure(network)
		logging.L(ctx).Warn("evm receipt lookup failed", "network", network, "error", err)
		return Verdict{}, fmt.Errorf("get receipt on %s: %w", network, err)
	}
	v.breaker.RecordSuccess(network)

	if receipt.Status != types.ReceiptStatusSuccessful {
		return Verdict{Reason: "tx failed or not found"}, nil
	}

	if tok.Native {
		return v.verifyNative(ctx, client, txHash, net, tok)
	}
	return v.verifyERC20(receipt, net, token, tok), nil
}

func (v *EVMVerifier) verifyNative(ctx context.Context, client EthClient, txHash string, net Network, tok Token) (Verdict, error) {
	tx, _, err := client.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return Verdict{Reason: "tx not found"}, nil
		}
		return Verdict{}, fmt.Errorf("get transaction: %w", err)
	}

	if tx.To() == nil || *tx.To() != v.wallet {
		return Verdict{Reason: "ETH not sent to our wallet"}, nil
	}
	if tx.Value().Cmp(minRaw(tok)) < 0 {
		return Verdict{Reason: fmt.Sprintf("insufficient: %s ETH (need ~%g)", formatUnits(tx.Value(), tok.Decimals), tok.MinAmount)}, nil
	}
	return Verdict{Valid: true, Amount: formatUnits(tx.Value(), tok.Decimals) + " ETH", Network: net.Name}, nil
}

func (v *EVMVerifier) verifyERC20(receipt *types.Receipt, net Network, token string, tok Token) Verdict {
	contract := common.HexToAddress(tok.Contract)
	upper := strings.ToUpper(token)

	for _, log := range receipt.Logs {
		if log.Address != contract || len(log.Topics) < 3 {
			continue
		}
		if log.Topics[0] != common.HexToHash(TransferTopic) {
			continue
		}

		recipient := common.HexToAddress(log.Topics[2].Hex())
		if recipient != v.wallet {
			return Verdict{Reason: "payment not to our wallet"}
		}

		amount := new(big.Int).SetBytes(log.Data)
		if amount.Cmp(minRaw(tok)) < 0 {
			return Verdict{Reason: fmt.Sprintf("insufficient: %s %s (need %g)", formatUnits(amount, tok.Decimals), upper, tok.MinAmount)}
		}
		return Verdict{Valid: true, Amount: formatUnits(amount, tok.Decimals) + " " + upper, Network: net.Name}
	}
	return Verdict{Reason: fmt.Sprintf("no %s transfer event found", upper)}
}

// Close releases all cached RPC clients.
func (v *EVMVerifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.clients {
		c.Close()
	}
	v.clients = make(map[string]EthClient)
}

// minRaw converts a token's human minimum to raw base units.
func minRaw(tok Token) *big.Int {
	min := new(big.Float).SetFloat64(tok.MinAmount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tok.Decimals)), nil))
	raw, _ := new(big.Float).Mul(min, scale).Int(nil)
	return raw
}

// formatUnits renders a raw amount as a human-readable decimal string.
func formatUnits(raw *big.Int, decimals int) string {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f := new(big.Float).Quo(new(big.Float).SetInt(raw), scale)
	s := f.Text('f', 6)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
