// event.go - Event stream types exposed by the registry and ledger.
//
// Submission, cancellation, settlement, root-update, deposit, withdraw, and
// epoch events carry the relevant identifiers and timestamps for the matching
// engine and any downstream observer or indexer to consume.

package event

import "time"

// Type tags an event on the stream.
type Type string

const (
	TypeSubmission   Type = "order_submitted"
	TypeCancellation Type = "order_cancelled"
	TypeSettlement   Type = "orders_settled"
	TypeRootUpdate   Type = "root_updated"
	TypeDeposit      Type = "deposit"
	TypeWithdraw     Type = "withdraw"
	TypeEpoch        Type = "epoch_advanced"
)

// Event is a single entry on the stream. Hash-valued identifiers are
// hex-encoded; fields not relevant to the event type are omitted.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Commitment  string `json:"commitment,omitempty"`
	CommitmentB string `json:"commitment_b,omitempty"`
	Owner       string `json:"owner,omitempty"`
	MarketID    uint32 `json:"market_id,omitempty"`
	Asset       uint32 `json:"asset,omitempty"`
	Epoch       uint64 `json:"epoch,omitempty"`
	FillAmount  uint64 `json:"fill_amount,omitempty"`
	Price       uint64 `json:"price,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	LeafIndex   uint64 `json:"leaf_index,omitempty"`
	OldRoot     string `json:"old_root,omitempty"`
	NewRoot     string `json:"new_root,omitempty"`
}
