// hash.go - MiMC hashing helpers for the balance accumulator.
//
// All tree nodes, leaf hashes, and fill-hash bindings use MiMC over the BN254
// scalar field. Inputs of arbitrary length are reduced into the field before
// hashing so every written chunk is a canonical field element.

package merkle

import (
	"encoding/hex"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Hash is an opaque 256-bit value: a tree node, a leaf hash, an order
// commitment, or a nullifier.
type Hash [32]byte

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// HexToHash parses a hex string into a Hash. Inputs shorter than 32 bytes are
// left-padded with zeros.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	if len(b) > len(h) {
		b = b[len(b)-len(h):]
	}
	copy(h[len(h)-len(b):], b)
	return h, nil
}

// Sum computes the MiMC hash of the given chunks, each reduced into the BN254
// scalar field first.
func Sum(chunks ...[]byte) Hash {
	h := mimc.NewMiMC()
	for _, c := range chunks {
		var e fr.Element
		e.SetBytes(c)
		b := e.Bytes()
		h.Write(b[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// hashPair hashes a left/right node pair into the parent node.
func hashPair(left, right Hash) Hash {
	return Sum(left[:], right[:])
}

// SumUint64 hashes a sequence of uint64 values. Used for the fill-hash
// binding MiMC(fillAmount, price) that the match proof commits to.
func SumUint64(vals ...uint64) Hash {
	chunks := make([][]byte, len(vals))
	for i, v := range vals {
		b := make([]byte, 8)
		for j := 0; j < 8; j++ {
			b[7-j] = byte(v >> (8 * j))
		}
		chunks[i] = b
	}
	return Sum(chunks...)
}
