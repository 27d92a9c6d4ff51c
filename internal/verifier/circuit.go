// circuit.go - Groth16 circuit statements for order validity, match validity,
// and balance transitions.
//
// All statements bind their hidden order parameters with MiMC, matching the
// native hashing in internal/merkle. The circuits compile over BN254.

package verifier

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// TreeDepth is the fixed accumulator depth the order circuit proves
// membership against.
const TreeDepth = 20

// OrderCircuit proves that a submitted commitment binds a well-formed hidden
// order, that the nullifier is derived from the trader's secret key, and that
// the trader owns a balance leaf under the current ledger root covering the
// order amount.
type OrderCircuit struct {
	// Public
	Commitment frontend.Variable `gnark:",public"`
	Root       frontend.Variable `gnark:",public"`
	Nullifier  frontend.Variable `gnark:",public"`
	MarketID   frontend.Variable `gnark:",public"`

	// Private
	Price   frontend.Variable
	Amount  frontend.Variable
	Side    frontend.Variable
	Salt    frontend.Variable
	Sk      frontend.Variable
	Balance frontend.Variable

	LeafIndexBits [TreeDepth]frontend.Variable
	Path          [TreeDepth]frontend.Variable
}

func (c *OrderCircuit) Define(api frontend.API) error {
	api.AssertIsDifferent(c.MarketID, 0)
	api.AssertIsBoolean(c.Side)

	// cm = MiMC(marketId, price, amount, side, salt)
	cm := hashVars(api, c.MarketID, c.Price, c.Amount, c.Side, c.Salt)
	api.AssertIsEqual(c.Commitment, cm)

	// nf = MiMC(sk, cm) prevents resubmission under a fresh salt only.
	nf := hashVars(api, c.Sk, cm)
	api.AssertIsEqual(c.Nullifier, nf)

	// Balance leaf membership: leaf = MiMC(sk, balance).
	cur := hashVars(api, c.Sk, c.Balance)
	for i := 0; i < TreeDepth; i++ {
		api.AssertIsBoolean(c.LeafIndexBits[i])
		left := api.Select(c.LeafIndexBits[i], c.Path[i], cur)
		right := api.Select(c.LeafIndexBits[i], cur, c.Path[i])
		cur = hashVars(api, left, right)
	}
	api.AssertIsEqual(c.Root, cur)

	// The hidden balance must cover the hidden order amount.
	api.AssertIsLessOrEqual(c.Amount, c.Balance)
	return nil
}

// MatchCircuit proves two hidden orders genuinely cross at the claimed fill
// and settlement price without revealing either order's parameters.
type MatchCircuit struct {
	// Public
	CommitmentA frontend.Variable `gnark:",public"` // bid side
	CommitmentB frontend.Variable `gnark:",public"` // ask side
	FillHash    frontend.Variable `gnark:",public"`
	Price       frontend.Variable `gnark:",public"`

	// Private
	MarketID frontend.Variable
	PriceA   frontend.Variable
	AmountA  frontend.Variable
	SaltA    frontend.Variable
	PriceB   frontend.Variable
	AmountB  frontend.Variable
	SaltB    frontend.Variable
	Fill     frontend.Variable
}

func (c *MatchCircuit) Define(api frontend.API) error {
	// Side is part of the commitment binding: 0 = bid, 1 = ask.
	cmA := hashVars(api, c.MarketID, c.PriceA, c.AmountA, 0, c.SaltA)
	api.AssertIsEqual(c.CommitmentA, cmA)
	cmB := hashVars(api, c.MarketID, c.PriceB, c.AmountB, 1, c.SaltB)
	api.AssertIsEqual(c.CommitmentB, cmB)

	// Crossing: bid price >= ask price, and the settlement price lies between.
	api.AssertIsLessOrEqual(c.PriceB, c.PriceA)
	api.AssertIsLessOrEqual(c.PriceB, c.Price)
	api.AssertIsLessOrEqual(c.Price, c.PriceA)

	// Fill cannot exceed either hidden amount.
	api.AssertIsLessOrEqual(c.Fill, c.AmountA)
	api.AssertIsLessOrEqual(c.Fill, c.AmountB)

	api.AssertIsEqual(c.FillHash, hashVars(api, c.Fill, c.Price))
	return nil
}

// BalanceCircuit proves the new ledger root is the committed transition of
// the old root under the settled pair. The ledger itself never recomputes the
// new root; it trusts this statement.
type BalanceCircuit struct {
	// Public
	OldRoot     frontend.Variable `gnark:",public"`
	NewRoot     frontend.Variable `gnark:",public"`
	CommitmentA frontend.Variable `gnark:",public"`
	CommitmentB frontend.Variable `gnark:",public"`

	// Private
	FillHash frontend.Variable
}

func (c *BalanceCircuit) Define(api frontend.API) error {
	transition := hashVars(api, c.OldRoot, c.CommitmentA, c.CommitmentB, c.FillHash)
	api.AssertIsEqual(c.NewRoot, transition)
	return nil
}

// hashVars hashes variables with an in-circuit MiMC instance.
func hashVars(api frontend.API, vars ...frontend.Variable) frontend.Variable {
	h, _ := mimc.NewMiMC(api)
	for _, v := range vars {
		h.Write(v)
	}
	return h.Sum()
}
