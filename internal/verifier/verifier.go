// verifier.go - Opaque proof-verification oracle consumed by the registry.
//
// The core never inspects proof bytes itself: every check is a boolean answer
// over the proof and its public inputs. Implementations are injected so the
// registry and settlement coordinator can be tested with controlled
// accept/reject sequences.

package verifier

import "github.com/sanjay-sol/darkbook/internal/merkle"

// OrderStatement is the public input set for an order-validity proof.
type OrderStatement struct {
	Commitment merkle.Hash
	Root       merkle.Hash
	Nullifier  merkle.Hash
	MarketID   uint32
}

// MatchStatement is the public input set for a match-validity proof.
// FillHash is the MiMC binding of (fillAmount, price).
type MatchStatement struct {
	CommitmentA merkle.Hash
	CommitmentB merkle.Hash
	FillHash    merkle.Hash
	Price       uint64
}

// BalanceStatement is the public input set for a balance-transition proof.
type BalanceStatement struct {
	OldRoot     merkle.Hash
	NewRoot     merkle.Hash
	CommitmentA merkle.Hash
	CommitmentB merkle.Hash
}

// Verifier is the proof oracle. All three checks are opaque accept/reject.
type Verifier interface {
	VerifyOrderValidity(proof []byte, st OrderStatement) bool
	VerifyMatch(proof []byte, st MatchStatement) bool
	VerifyBalanceTransition(proof []byte, st BalanceStatement) bool
}

// FuncVerifier dispatches each check to a function field. A nil field accepts
// everything, so the zero value is an accept-all verifier (development mode
// and tests).
type FuncVerifier struct {
	OrderFn   func(proof []byte, st OrderStatement) bool
	MatchFn   func(proof []byte, st MatchStatement) bool
	BalanceFn func(proof []byte, st BalanceStatement) bool
}

func (v *FuncVerifier) VerifyOrderValidity(proof []byte, st OrderStatement) bool {
	if v.OrderFn == nil {
		return true
	}
	return v.OrderFn(proof, st)
}

func (v *FuncVerifier) VerifyMatch(proof []byte, st MatchStatement) bool {
	if v.MatchFn == nil {
		return true
	}
	return v.MatchFn(proof, st)
}

func (v *FuncVerifier) VerifyBalanceTransition(proof []byte, st BalanceStatement) bool {
	if v.BalanceFn == nil {
		return true
	}
	return v.BalanceFn(proof, st)
}
