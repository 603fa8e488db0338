package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mbd888/agentchat/internal/retry"
)

// BTCVerifier checks Bitcoin payments against the mempool.space REST API.
type BTCVerifier struct {
	wallet  string
	baseURL string
	client  *http.Client
}

// NewBTCVerifier creates a verifier for the given receiving address.
// baseURL defaults to the public mempool.space API when empty.
func NewBTCVerifier(wallet, baseURL string) *BTCVerifier {
	if baseURL == "" {
		baseURL = "https://mempool.space/api"
	}
	return &BTCVerifier{
		wallet:  wallet,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// mempoolTx is the subset of the mempool.space tx payload we read.
type mempoolTx struct {
	Vout []struct {
		ScriptPubkeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"` // sats
	} `json:"vout"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

// Verify checks that txid has an output of at least MinBTCSats to our
// wallet. Unconfirmed transactions are accepted; the mempool is good
// enough at this price point.
func (v *BTCVerifier) Verify(ctx context.Context, txid string) (Verdict, error) {
	var tx mempoolTx
	var notFound bool

	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/tx/"+txid, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			notFound = true
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("mempool.space returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&tx)
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrProviderDegraded, err)
	}
	if notFound {
		return Verdict{Reason: "tx not found on mempool.space"}, nil
	}

	for _, out := range tx.Vout {
		if out.ScriptPubkeyAddress != v.wallet {
			continue
		}
		if out.Value < MinBTCSats {
			return Verdict{Reason: fmt.Sprintf("insufficient: %d sats", out.Value)}, nil
		}
		return Verdict{
			Valid:  true,
			Amount: fmt.Sprintf("%.8f BTC", float64(out.Value)/1e8),
		}, nil
	}
	return Verdict{Reason: "no output to our BTC address"}, nil
}
