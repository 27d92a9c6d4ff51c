// prover.go - Settlement provers for the coordinator.
//
// The operator holds the revealed side of every intent it matched, so it can
// build the full witnesses for the match and balance circuits. Dev mode skips
// Groth16 entirely and emits empty proof bytes; the registry is then wired
// with an accept-all verifier.
package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/sanjay-sol/darkbook/internal/engine"
	"github.com/sanjay-sol/darkbook/internal/merkle"
	"github.com/sanjay-sol/darkbook/internal/verifier"
)

// revealedOrder is the hidden-parameter set a trader discloses to the
// matching operator alongside the public commitment.
type revealedOrder struct {
	MarketID uint32
	Price    uint64
	Amount   uint64
	Side     uint64
	Salt     merkle.Hash
}

// intentCache retains revealed orders by commitment for witness construction.
type intentCache struct {
	mu     sync.Mutex
	orders map[merkle.Hash]revealedOrder
}

func newIntentCache() *intentCache {
	return &intentCache{orders: make(map[merkle.Hash]revealedOrder)}
}

func (c *intentCache) Put(cm merkle.Hash, o revealedOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[cm] = o
}

func (c *intentCache) Get(cm merkle.Hash) (revealedOrder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[cm]
	return o, ok
}

func (c *intentCache) Delete(cm merkle.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, cm)
}

// devProver computes the committed transition root natively and skips proof
// generation.
type devProver struct{}

func (devProver) ProveMatch(ctx context.Context, m engine.Match) ([]byte, error) {
	return nil, ctx.Err()
}

func (devProver) ProveBalanceTransition(ctx context.Context, oldRoot merkle.Hash, m engine.Match) (merkle.Hash, []byte, error) {
	if err := ctx.Err(); err != nil {
		return merkle.Hash{}, nil, err
	}
	fill := verifier.FillBinding(m.FillAmount, m.Price)
	return verifier.TransitionRoot(oldRoot, m.CommitmentA, m.CommitmentB, fill), nil, nil
}

// groth16Prover builds full witnesses from the revealed intents and proves
// under the cached circuit keys.
type groth16Prover struct {
	cache   *intentCache
	match   *verifier.Keys
	balance *verifier.Keys
}

func newGroth16Prover(cache *intentCache, match, balance *verifier.Keys) *groth16Prover {
	return &groth16Prover{cache: cache, match: match, balance: balance}
}

func (p *groth16Prover) ProveMatch(ctx context.Context, m engine.Match) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bid, ok := p.cache.Get(m.CommitmentA)
	if !ok {
		return nil, fmt.Errorf("no revealed intent for bid %s", m.CommitmentA.Hex())
	}
	ask, ok := p.cache.Get(m.CommitmentB)
	if !ok {
		return nil, fmt.Errorf("no revealed intent for ask %s", m.CommitmentB.Hex())
	}
	fill := verifier.FillBinding(m.FillAmount, m.Price)
	assignment := &verifier.MatchCircuit{
		CommitmentA: verifier.HashToField(m.CommitmentA),
		CommitmentB: verifier.HashToField(m.CommitmentB),
		FillHash:    verifier.HashToField(fill),
		Price:       m.Price,
		MarketID:    m.MarketID,
		PriceA:      bid.Price,
		AmountA:     bid.Amount,
		SaltA:       verifier.HashToField(bid.Salt),
		PriceB:      ask.Price,
		AmountB:     ask.Amount,
		SaltB:       verifier.HashToField(ask.Salt),
		Fill:        m.FillAmount,
	}
	return verifier.Prove(p.match, assignment)
}

func (p *groth16Prover) ProveBalanceTransition(ctx context.Context, oldRoot merkle.Hash, m engine.Match) (merkle.Hash, []byte, error) {
	if err := ctx.Err(); err != nil {
		return merkle.Hash{}, nil, err
	}
	fill := verifier.FillBinding(m.FillAmount, m.Price)
	newRoot := verifier.TransitionRoot(oldRoot, m.CommitmentA, m.CommitmentB, fill)
	assignment := &verifier.BalanceCircuit{
		OldRoot:     verifier.HashToField(oldRoot),
		NewRoot:     verifier.HashToField(newRoot),
		CommitmentA: verifier.HashToField(m.CommitmentA),
		CommitmentB: verifier.HashToField(m.CommitmentB),
		FillHash:    verifier.HashToField(fill),
	}
	proof, err := verifier.Prove(p.balance, assignment)
	if err != nil {
		return merkle.Hash{}, nil, err
	}
	return newRoot, proof, nil
}
