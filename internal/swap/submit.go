package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// Broadcaster is the part of a backend that relays a signed transaction.
type Broadcaster interface {
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)
}

// Submitted reports a broadcast envelope.
type Submitted struct {
	Fee           uint64        `json:"fee"`
	Type          Type          `json:"type"`
	TransactionID string        `json:"transaction_id"`
	Network       chain.Network `json:"network"`
	Date          string        `json:"date"`
}

// Submit broadcasts the transaction in a signed envelope. Provider
// failures are returned as *ProviderError with the provider's message.
func Submit(ctx context.Context, envelope string, b Broadcaster) (*Submitted, error) {
	env, err := Decode(envelope)
	if err != nil {
		return nil, err
	}
	if !env.Type.Signed() {
		return nil, fmt.Errorf("%w: cannot submit %s envelope, sign it first", ErrState, env.Type)
	}

	txid, err := b.BroadcastTransaction(ctx, env.Raw)
	if err != nil {
		return nil, providerError("broadcast", err)
	}

	logging.GetDefault().Component("swap").Info("Submitted transaction",
		"type", env.Type,
		"txid", txid,
		"network", env.Network)

	return &Submitted{
		Fee:           env.Fee,
		Type:          env.Type,
		TransactionID: txid,
		Network:       env.Network,
		Date:          time.Now().UTC().Format(time.RFC3339),
	}, nil
}
