// journal.go - Durable registry journal backed by Pebble.
//
// The journal persists the nullifier sets and the settlement log so a
// restarted registry keeps refusing replayed nullifiers. Order and withdraw
// nullifiers live under disjoint key prefixes, matching their disjoint
// namespaces.

package store

import (
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/sanjay-sol/darkbook/internal/merkle"
)

const (
	prefixOrderNullifier    = "n/"
	prefixWithdrawNullifier = "w/"
	prefixSettlement        = "s/"
)

// Journal is a Pebble-backed append-oriented store.
type Journal struct {
	db *pebble.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// PutNullifier records an order nullifier.
func (j *Journal) PutNullifier(n merkle.Hash) error {
	return j.db.Set(nullifierKey(prefixOrderNullifier, n), nil, pebble.Sync)
}

// HasNullifier reports whether an order nullifier was already recorded.
func (j *Journal) HasNullifier(n merkle.Hash) (bool, error) {
	return j.has(nullifierKey(prefixOrderNullifier, n))
}

// PutWithdrawNullifier records a withdrawal nullifier.
func (j *Journal) PutWithdrawNullifier(n merkle.Hash) error {
	return j.db.Set(nullifierKey(prefixWithdrawNullifier, n), nil, pebble.Sync)
}

// HasWithdrawNullifier reports whether a withdrawal nullifier was already
// recorded.
func (j *Journal) HasWithdrawNullifier(n merkle.Hash) (bool, error) {
	return j.has(nullifierKey(prefixWithdrawNullifier, n))
}

// AppendSettlement stores a serialized settlement record under its sequence
// number.
func (j *Journal) AppendSettlement(seq uint64, data []byte) error {
	key := make([]byte, len(prefixSettlement)+8)
	copy(key, prefixSettlement)
	binary.BigEndian.PutUint64(key[len(prefixSettlement):], seq)
	return j.db.Set(key, data, pebble.Sync)
}

// Settlements returns all stored settlement records in sequence order.
func (j *Journal) Settlements() ([][]byte, error) {
	lower := []byte(prefixSettlement)
	upper := []byte(prefixSettlement + "\xff")
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		out = append(out, v)
	}
	return out, iter.Error()
}

func (j *Journal) has(key []byte) (bool, error) {
	_, closer, err := j.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func nullifierKey(prefix string, n merkle.Hash) []byte {
	key := make([]byte, len(prefix)+len(n))
	copy(key, prefix)
	copy(key[len(prefix):], n[:])
	return key
}
