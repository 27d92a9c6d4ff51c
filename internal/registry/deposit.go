// deposit.go - Deposit/withdraw boundary with the asset-custody collaborator.
//
// The first deposit for an (owner, asset) pair creates its ledger leaf; later
// deposits accumulate as a pending amount until a verified root transition
// folds them in. Withdrawal demands a membership proof against the current
// root plus a single-use withdrawal nullifier from a namespace disjoint from
// order nullifiers.

package registry

import (
	"time"

	"github.com/sanjay-sol/darkbook/internal/event"
	"github.com/sanjay-sol/darkbook/internal/merkle"
)

// Deposit credits an amount to (owner, asset). The first deposit inserts the
// given leaf hash into the accumulator and returns its index; subsequent
// deposits accumulate pending and return the existing index.
func (r *Registry) Deposit(owner string, asset uint32, amount uint64, leaf merkle.Hash) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == 0 {
		return 0, ErrZeroAmount
	}
	if _, ok := r.assets[asset]; !ok {
		return 0, ErrAssetNotSupported
	}

	key := leafKey{Owner: owner, Asset: asset}
	now := time.Now()
	if info, ok := r.leaves[key]; ok {
		info.Pending += amount
		r.publish(event.Event{
			Type:      event.TypeDeposit,
			Timestamp: now,
			Owner:     owner,
			Asset:     asset,
			Amount:    amount,
			LeafIndex: info.Index,
		})
		return info.Index, nil
	}

	oldRoot := r.tree.Root()
	newRoot, index, err := r.tree.Insert(leaf)
	if err != nil {
		return 0, err
	}
	r.leaves[key] = &leafInfo{Index: index, Deposited: amount}

	r.log.Info().Str("owner", owner).Uint32("asset", asset).Uint64("leaf_index", index).Msg("ledger leaf created")
	r.publish(event.Event{
		Type:      event.TypeDeposit,
		Timestamp: now,
		Owner:     owner,
		Asset:     asset,
		Amount:    amount,
		LeafIndex: index,
	})
	r.publish(event.Event{
		Type:      event.TypeRootUpdate,
		Timestamp: now,
		OldRoot:   oldRoot.Hex(),
		NewRoot:   newRoot.Hex(),
	})
	return index, nil
}

// PendingDeposit returns the amount deposited after leaf creation that has
// not yet been folded into a tree update.
func (r *Registry) PendingDeposit(owner string, asset uint32) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.leaves[leafKey{Owner: owner, Asset: asset}]; ok {
		return info.Pending
	}
	return 0
}

// LeafIndex returns the assigned leaf index for (owner, asset).
func (r *Registry) LeafIndex(owner string, asset uint32) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.leaves[leafKey{Owner: owner, Asset: asset}]; ok {
		return info.Index, true
	}
	return 0, false
}

// Path returns the membership path for a leaf index against the accumulator
// as of the last insertion.
func (r *Registry) Path(index uint64) ([]merkle.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Path(index)
}

// Withdraw releases funds to the custody collaborator. The caller supplies
// the leaf preimage hash, its index, and a sibling path proving membership
// under the current root, plus a fresh withdrawal nullifier.
func (r *Registry) Withdraw(owner string, asset uint32, nullifier Nullifier, leaf merkle.Hash, index uint64, path []merkle.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := false
	if _, ok := r.withdrawNullifiers[nullifier]; ok {
		used = true
	} else if r.journal != nil {
		var err error
		used, err = r.journal.HasWithdrawNullifier(nullifier)
		if err != nil {
			return err
		}
	}
	if used {
		return ErrNullifierReused
	}
	if !merkle.VerifyMembership(r.tree.Root(), leaf, index, path) {
		return ErrProofRejected
	}

	if r.journal != nil {
		if err := r.journal.PutWithdrawNullifier(nullifier); err != nil {
			return err
		}
	}
	r.withdrawNullifiers[nullifier] = struct{}{}

	r.log.Info().Str("owner", owner).Uint32("asset", asset).Uint64("leaf_index", index).Msg("withdrawal accepted")
	r.publish(event.Event{
		Type:      event.TypeWithdraw,
		Timestamp: time.Now(),
		Owner:     owner,
		Asset:     asset,
		LeafIndex: index,
	})
	return nil
}
