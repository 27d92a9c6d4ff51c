// tree.go - Append-only incremental Merkle accumulator for the balance ledger.
//
// The tree has a fixed depth D and a hard capacity of 2^D leaves. Insertion
// walks the D levels once, caching the left-sibling hash at every level where
// the new node is a left child and substituting a precomputed empty-subtree
// hash where no sibling exists yet, so both insertion and root recomputation
// are O(D) regardless of fill level.
//
// NOTE: Tree is not thread-safe by itself; the registry serializes access.

package merkle

import (
	"errors"
	"fmt"
)

// ErrLedgerFull is returned when an insert would exceed the 2^D capacity.
// Insertion never wraps silently.
var ErrLedgerFull = errors.New("merkle: ledger full")

// Tree is the incremental accumulator. One leaf per (owner, asset) pair.
type Tree struct {
	depth  int
	next   uint64
	root   Hash
	filled []Hash // cached left-sibling hash per level
	zeros  []Hash // empty-subtree hash per level
	leaves []Hash // retained for membership path construction
}

// New creates an empty tree of the given depth (1..32).
func New(depth int) (*Tree, error) {
	if depth < 1 || depth > 32 {
		return nil, fmt.Errorf("merkle: invalid depth %d", depth)
	}
	zeros := make([]Hash, depth+1)
	for i := 0; i < depth; i++ {
		zeros[i+1] = hashPair(zeros[i], zeros[i])
	}
	return &Tree{
		depth:  depth,
		filled: make([]Hash, depth),
		zeros:  zeros,
		root:   zeros[depth],
	}, nil
}

// Depth returns the fixed tree depth.
func (t *Tree) Depth() int { return t.depth }

// Capacity returns the hard leaf bound 2^D.
func (t *Tree) Capacity() uint64 { return 1 << uint(t.depth) }

// NextIndex returns the index the next inserted leaf will be assigned.
func (t *Tree) NextIndex() uint64 { return t.next }

// Root returns the current accumulator root.
func (t *Tree) Root() Hash { return t.root }

// Insert appends a leaf hash, assigns it the next strictly increasing index,
// and recomputes the root in O(D). Fails with ErrLedgerFull at capacity.
func (t *Tree) Insert(leaf Hash) (Hash, uint64, error) {
	if t.next == t.Capacity() {
		return Hash{}, 0, ErrLedgerFull
	}
	index := t.next
	idx := index
	cur := leaf
	for lvl := 0; lvl < t.depth; lvl++ {
		if idx&1 == 0 {
			t.filled[lvl] = cur
			cur = hashPair(cur, t.zeros[lvl])
		} else {
			cur = hashPair(t.filled[lvl], cur)
		}
		idx >>= 1
	}
	t.root = cur
	t.leaves = append(t.leaves, leaf)
	t.next++
	return t.root, index, nil
}

// SetRoot replaces the root wholesale. The tree does not recompute anything:
// the caller has already had the transition verified against an external
// balance proof. Only the settlement path may reach this.
func (t *Tree) SetRoot(root Hash) {
	t.root = root
}

// Path returns the sibling path for the leaf at index, suitable for
// VerifyMembership against the root as of the last insertion.
func (t *Tree) Path(index uint64) ([]Hash, error) {
	if index >= t.next {
		return nil, fmt.Errorf("merkle: no leaf at index %d", index)
	}
	level := make([]Hash, len(t.leaves))
	copy(level, t.leaves)
	path := make([]Hash, 0, t.depth)
	idx := index
	for lvl := 0; lvl < t.depth; lvl++ {
		sib := idx ^ 1
		if sib < uint64(len(level)) {
			path = append(path, level[sib])
		} else {
			path = append(path, t.zeros[lvl])
		}
		parents := (uint64(len(level)) + 1) / 2
		next := make([]Hash, parents)
		for i := uint64(0); i < parents; i++ {
			left := level[2*i]
			right := t.zeros[lvl]
			if 2*i+1 < uint64(len(level)) {
				right = level[2*i+1]
			}
			next[i] = hashPair(left, right)
		}
		level = next
		idx >>= 1
	}
	return path, nil
}

// VerifyMembership recomputes the root from leaf, index, and sibling path and
// compares it to the expected root. It is a pure function and returns false,
// never an error, on any mismatch including a wrong path length.
func VerifyMembership(root, leaf Hash, index uint64, path []Hash) bool {
	if len(path) == 0 || len(path) > 32 {
		return false
	}
	if index >= 1<<uint(len(path)) {
		return false
	}
	cur := leaf
	idx := index
	for _, sibling := range path {
		if idx&1 == 0 {
			cur = hashPair(cur, sibling)
		} else {
			cur = hashPair(sibling, cur)
		}
		idx >>= 1
	}
	return cur == root
}
