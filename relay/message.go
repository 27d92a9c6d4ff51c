// message.go - Wire envelope and payloads for the operator relay network.
//
// Relay nodes exchange revealed order intents and settlement notices over a
// peer-to-peer mesh so that a trader can reach any operator. The envelope is
// a typed JSON wrapper; payload decoding is driven by the registered handler
// for each type.

package relay

import "encoding/json"

// Message is the generic envelope for anything sent between relay nodes.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// Well-known message types.
const (
	TypeSubmit = "order_submit"
	TypeCancel = "order_cancel"
	TypeMatch  = "match_instruction"
	TypePing   = "ping"
	TypePong   = "pong"
)

// SubmitPayload carries a hidden order's public surface plus the intent
// revealed to the matching operator.
type SubmitPayload struct {
	Owner      string `json:"owner"`
	Commitment string `json:"commitment"`
	Nullifier  string `json:"nullifier"`
	MarketID   uint32 `json:"marketId"`
	Side       string `json:"side"`
	Price      uint64 `json:"price"`
	Qty        uint64 `json:"qty"`
	Salt       string `json:"salt"`
	Proof      []byte `json:"proof,omitempty"`
}

// CancelPayload requests removal of a resting order.
type CancelPayload struct {
	Owner      string `json:"owner"`
	Commitment string `json:"commitment"`
}

// MatchPayload announces a produced match to peer operators.
type MatchPayload struct {
	CommitmentA string `json:"commitmentA"`
	CommitmentB string `json:"commitmentB"`
	MarketID    uint32 `json:"marketId"`
	FillAmount  uint64 `json:"fillAmount"`
	Price       uint64 `json:"price"`
}

// PingPayload is the health-check probe; the peer answers with a pong
// carrying the same nonce.
type PingPayload struct {
	Nonce uint64 `json:"nonce"`
}
