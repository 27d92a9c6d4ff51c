// commit.go - Native counterparts of the circuit bindings.
//
// Traders compute these off-chain when building orders; tests and the dev
// prover use them to stay consistent with the in-circuit MiMC.

package verifier

import "github.com/sanjay-sol/darkbook/internal/merkle"

// Order sides inside the commitment binding.
const (
	SideBid uint64 = 0
	SideAsk uint64 = 1
)

// CommitOrder binds the hidden order parameters into the public commitment:
// cm = MiMC(marketId, price, amount, side, salt).
func CommitOrder(marketID uint32, price, amount, side uint64, salt merkle.Hash) merkle.Hash {
	return merkle.Sum(
		u64Bytes(uint64(marketID)),
		u64Bytes(price),
		u64Bytes(amount),
		u64Bytes(side),
		salt[:],
	)
}

// NullifierFor derives the single-use submission nullifier from the trader's
// secret key and the commitment: nf = MiMC(sk, cm).
func NullifierFor(sk, commitment merkle.Hash) merkle.Hash {
	return merkle.Sum(sk[:], commitment[:])
}

// BalanceLeaf is the ledger leaf binding for a trader's hidden balance:
// leaf = MiMC(sk, balance).
func BalanceLeaf(sk merkle.Hash, balance uint64) merkle.Hash {
	return merkle.Sum(sk[:], u64Bytes(balance))
}

// FillBinding is the public MiMC binding of (fillAmount, price) the match
// proof commits to.
func FillBinding(fillAmount, price uint64) merkle.Hash {
	return merkle.SumUint64(fillAmount, price)
}

// TransitionRoot is the committed balance-transition accumulator: the new
// root the balance circuit proves from the old root and the settled pair.
func TransitionRoot(oldRoot, cmA, cmB, fillHash merkle.Hash) merkle.Hash {
	return merkle.Sum(oldRoot[:], cmA[:], cmB[:], fillHash[:])
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}
