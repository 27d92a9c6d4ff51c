// registry.go - Commitment/nullifier registry and order state machine.
//
// The registry tracks each order commitment's lifecycle, the nullifier
// anti-replay set, per-market active-order counts, and the settlement log,
// and owns the balance accumulator. All state-changing operations run under a
// single mutex, modeling the serializing execution environment: no two calls
// ever interleave at sub-operation granularity, and every failed call leaves
// shared state exactly as it was.

package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sanjay-sol/darkbook/internal/event"
	"github.com/sanjay-sol/darkbook/internal/merkle"
	"github.com/sanjay-sol/darkbook/internal/verifier"
)

// Commitment is the opaque binding hash standing in for an order's hidden
// parameters. Nullifier is the single-use anti-replay token accompanying it.
// The two are independent namespaces.
type (
	Commitment = merkle.Hash
	Nullifier  = merkle.Hash
)

// Status is an order's lifecycle state. None is implicit: the absence of a
// stored record. Filled and Cancelled are terminal.
type Status uint8

const (
	StatusNone Status = iota
	StatusActive
	StatusPartialFill
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusActive:
		return "active"
	case StatusPartialFill:
		return "partial_fill"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// open reports whether the order can still be cancelled or settled.
func (s Status) open() bool {
	return s == StatusActive || s == StatusPartialFill
}

// Order is a stored order commitment record.
type Order struct {
	Commitment  Commitment
	Owner       string
	MarketID    uint32
	Epoch       uint64
	Status      Status
	SubmittedAt time.Time
}

// SettlementRecord is one entry of the append-only settlement log.
type SettlementRecord struct {
	CommitmentA Commitment `json:"commitment_a"`
	CommitmentB Commitment `json:"commitment_b"`
	FillAmount  uint64     `json:"fill_amount"`
	Price       uint64     `json:"price"`
	SettledAt   time.Time  `json:"settled_at"`
}

// SettleRequest carries one match instruction plus its two proofs into the
// settlement path.
type SettleRequest struct {
	CommitmentA  Commitment // bid side
	CommitmentB  Commitment // ask side
	FillAmount   uint64
	Price        uint64
	NewRoot      merkle.Hash
	ResidualA    bool // the bid retains an unfilled remainder
	ResidualB    bool // the ask retains an unfilled remainder
	MatchProof   []byte
	BalanceProof []byte
}

// Journal is the optional durability hook for nullifiers and the settlement
// log. A nil Journal keeps everything in memory only.
type Journal interface {
	PutNullifier(merkle.Hash) error
	HasNullifier(merkle.Hash) (bool, error)
	PutWithdrawNullifier(merkle.Hash) error
	HasWithdrawNullifier(merkle.Hash) (bool, error)
	AppendSettlement(seq uint64, data []byte) error
}

// Config is the authorization and construction configuration, injected at
// construction and mutated only through the registry's own admin operations.
type Config struct {
	Admin        string
	Permissioned bool
}

// Registry owns OrderCommitment and SettlementRecord entities and the
// balance accumulator.
type Registry struct {
	mu sync.Mutex

	admin        string
	permissioned bool
	matchers     map[string]struct{}

	orders             map[Commitment]*Order
	nullifiers         map[Nullifier]struct{}
	withdrawNullifiers map[Nullifier]struct{}
	active             map[uint32]int
	settlements        []SettlementRecord
	epoch              uint64

	assets  map[uint32]struct{}
	leaves  map[leafKey]*leafInfo
	tree    *merkle.Tree

	verifier verifier.Verifier
	events   *event.Broadcaster
	journal  Journal
	log      zerolog.Logger
}

type leafKey struct {
	Owner string
	Asset uint32
}

// leafInfo tracks one (owner, asset) ledger leaf: its immutable index, the
// amount committed at creation, and the pending amount deposited since.
type leafInfo struct {
	Index     uint64
	Deposited uint64
	Pending   uint64
}

// New builds a registry around the injected collaborators. The broadcaster
// and journal may be nil.
func New(cfg Config, tree *merkle.Tree, v verifier.Verifier, events *event.Broadcaster, journal Journal, log zerolog.Logger) *Registry {
	return &Registry{
		admin:              cfg.Admin,
		permissioned:       cfg.Permissioned,
		matchers:           make(map[string]struct{}),
		orders:             make(map[Commitment]*Order),
		nullifiers:         make(map[Nullifier]struct{}),
		withdrawNullifiers: make(map[Nullifier]struct{}),
		active:             make(map[uint32]int),
		assets:             make(map[uint32]struct{}),
		leaves:             make(map[leafKey]*leafInfo),
		tree:               tree,
		verifier:           v,
		events:             events,
		journal:            journal,
		log:                log.With().Str("component", "registry").Logger(),
	}
}

// SubmitOrder records a hidden order. The nullifier must be fresh, the
// commitment unused, and the order-validity proof accepted against the
// current ledger root. On success the order is Active under the current
// epoch and a submission event is emitted.
func (r *Registry) SubmitOrder(owner string, commitment Commitment, nullifier Nullifier, marketID uint32, proof []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if marketID == 0 {
		return ErrInvalidMarket
	}
	used, err := r.nullifierUsed(nullifier)
	if err != nil {
		return err
	}
	if used {
		return ErrNullifierReused
	}
	if o, ok := r.orders[commitment]; ok && o.Status != StatusNone {
		return ErrCommitmentExists
	}
	st := verifier.OrderStatement{
		Commitment: commitment,
		Root:       r.tree.Root(),
		Nullifier:  nullifier,
		MarketID:   marketID,
	}
	if !r.verifier.VerifyOrderValidity(proof, st) {
		return ErrProofRejected
	}

	if r.journal != nil {
		if err := r.journal.PutNullifier(nullifier); err != nil {
			return err
		}
	}
	r.nullifiers[nullifier] = struct{}{}
	r.orders[commitment] = &Order{
		Commitment:  commitment,
		Owner:       owner,
		MarketID:    marketID,
		Epoch:       r.epoch,
		Status:      StatusActive,
		SubmittedAt: time.Now(),
	}
	r.active[marketID]++

	r.log.Info().Str("commitment", commitment.Hex()).Uint32("market", marketID).Uint64("epoch", r.epoch).Msg("order submitted")
	r.publish(event.Event{
		Type:       event.TypeSubmission,
		Timestamp:  time.Now(),
		Commitment: commitment.Hex(),
		Owner:      owner,
		MarketID:   marketID,
		Epoch:      r.epoch,
	})
	return nil
}

// CancelOrder moves an open order owned by the caller to Cancelled.
func (r *Registry) CancelOrder(owner string, commitment Commitment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[commitment]
	if !ok {
		return ErrNotFound
	}
	if !o.Status.open() {
		return ErrNotActive
	}
	if o.Owner != owner {
		return ErrNotOwner
	}

	o.Status = StatusCancelled
	r.active[o.MarketID]--

	r.log.Info().Str("commitment", commitment.Hex()).Uint32("market", o.MarketID).Msg("order cancelled")
	r.publish(event.Event{
		Type:       event.TypeCancellation,
		Timestamp:  time.Now(),
		Commitment: commitment.Hex(),
		Owner:      owner,
		MarketID:   o.MarketID,
	})
	return nil
}

// Settle atomically applies one verified match: both order statuses, the
// active counts, the ledger root, and the settlement log move together, or
// nothing moves at all.
func (r *Registry) Settle(caller string, req SettleRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.permissioned {
		if _, ok := r.matchers[caller]; !ok {
			return ErrNotAuthorizedMatcher
		}
	}
	if req.FillAmount == 0 {
		return ErrZeroAmount
	}
	if req.CommitmentA == req.CommitmentB {
		return ErrSelfMatch
	}
	a, ok := r.orders[req.CommitmentA]
	if !ok || !a.Status.open() {
		return ErrNotActive
	}
	b, ok := r.orders[req.CommitmentB]
	if !ok || !b.Status.open() {
		return ErrNotActive
	}

	oldRoot := r.tree.Root()
	matchSt := verifier.MatchStatement{
		CommitmentA: req.CommitmentA,
		CommitmentB: req.CommitmentB,
		FillHash:    verifier.FillBinding(req.FillAmount, req.Price),
		Price:       req.Price,
	}
	if !r.verifier.VerifyMatch(req.MatchProof, matchSt) {
		return ErrProofRejected
	}
	balanceSt := verifier.BalanceStatement{
		OldRoot:     oldRoot,
		NewRoot:     req.NewRoot,
		CommitmentA: req.CommitmentA,
		CommitmentB: req.CommitmentB,
	}
	if !r.verifier.VerifyBalanceTransition(req.BalanceProof, balanceSt) {
		return ErrProofRejected
	}

	now := time.Now()
	rec := SettlementRecord{
		CommitmentA: req.CommitmentA,
		CommitmentB: req.CommitmentB,
		FillAmount:  req.FillAmount,
		Price:       req.Price,
		SettledAt:   now,
	}
	if r.journal != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := r.journal.AppendSettlement(uint64(len(r.settlements)), data); err != nil {
			return err
		}
	}

	r.applyFill(a, req.ResidualA)
	r.applyFill(b, req.ResidualB)
	r.tree.SetRoot(req.NewRoot)
	r.settlements = append(r.settlements, rec)

	r.log.Info().
		Str("commitment_a", req.CommitmentA.Hex()).
		Str("commitment_b", req.CommitmentB.Hex()).
		Uint64("fill", req.FillAmount).
		Uint64("price", req.Price).
		Msg("orders settled")
	r.publish(event.Event{
		Type:        event.TypeSettlement,
		Timestamp:   now,
		Commitment:  req.CommitmentA.Hex(),
		CommitmentB: req.CommitmentB.Hex(),
		MarketID:    a.MarketID,
		FillAmount:  req.FillAmount,
		Price:       req.Price,
	})
	r.publish(event.Event{
		Type:      event.TypeRootUpdate,
		Timestamp: now,
		OldRoot:   oldRoot.Hex(),
		NewRoot:   req.NewRoot.Hex(),
	})
	return nil
}

// applyFill advances one settled order's status. An attested residual keeps
// the order open as PartialFill; otherwise it terminates at Filled and
// leaves the market's active count.
func (r *Registry) applyFill(o *Order, residual bool) {
	if residual {
		o.Status = StatusPartialFill
		return
	}
	o.Status = StatusFilled
	r.active[o.MarketID]--
}

// AdvanceEpoch increments the monotonic submission epoch. Administrator only.
func (r *Registry) AdvanceEpoch(caller string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return 0, ErrNotAdmin
	}
	r.epoch++
	r.publish(event.Event{Type: event.TypeEpoch, Timestamp: time.Now(), Epoch: r.epoch})
	return r.epoch, nil
}

// AuthorizeMatcher adds an identity to the authorized-matcher set.
func (r *Registry) AuthorizeMatcher(caller, matcher string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrNotAdmin
	}
	r.matchers[matcher] = struct{}{}
	return nil
}

// RevokeMatcher removes an identity from the authorized-matcher set.
func (r *Registry) RevokeMatcher(caller, matcher string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrNotAdmin
	}
	delete(r.matchers, matcher)
	return nil
}

// SetPermissioned toggles between permissioned and permissionless settlement.
func (r *Registry) SetPermissioned(caller string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrNotAdmin
	}
	r.permissioned = on
	return nil
}

// AddAsset marks an asset id as supported for deposits. Asset 0 is reserved.
func (r *Registry) AddAsset(caller string, asset uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrNotAdmin
	}
	if asset == 0 {
		return ErrInvalidAsset
	}
	r.assets[asset] = struct{}{}
	return nil
}

// ---- read accessors ----

// OrderStatus returns the stored status for a commitment, StatusNone if the
// commitment was never submitted.
func (r *Registry) OrderStatus(commitment Commitment) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[commitment]; ok {
		return o.Status
	}
	return StatusNone
}

// ActiveCount returns the number of open orders in a market.
func (r *Registry) ActiveCount(marketID uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[marketID]
}

// Epoch returns the current submission epoch.
func (r *Registry) Epoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// Root returns the current ledger root.
func (r *Registry) Root() merkle.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Root()
}

// Settlements returns a copy of the settlement log.
func (r *Registry) Settlements() []SettlementRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SettlementRecord, len(r.settlements))
	copy(out, r.settlements)
	return out
}

// IsMatcher reports whether an identity is in the authorized-matcher set.
func (r *Registry) IsMatcher(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.matchers[id]
	return ok
}

// Permissioned reports whether settlement is currently permissioned.
func (r *Registry) Permissioned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permissioned
}

// nullifierUsed consults the in-memory set and, when configured, the journal.
func (r *Registry) nullifierUsed(n Nullifier) (bool, error) {
	if _, ok := r.nullifiers[n]; ok {
		return true, nil
	}
	if r.journal != nil {
		return r.journal.HasNullifier(n)
	}
	return false, nil
}

func (r *Registry) publish(e event.Event) {
	if r.events != nil {
		r.events.Publish(e)
	}
}
