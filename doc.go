// Package darkbook implements a hidden-order exchange: traders submit MiMC
// commitments to their orders together with single-use nullifiers, a matching
// operator crosses the revealed intents under price-time priority, and
// settlement applies atomically against a Merkle balance ledger once the
// match and balance-transition proofs verify.
//
// The packages under internal/ compose into a single process (cmd/darkbookd):
//
//   - internal/merkle holds the append-only balance accumulator.
//   - internal/verifier defines the Groth16 circuits and the proof oracle.
//   - internal/registry owns order lifecycles, nullifier sets, and settlement.
//   - internal/engine is the price-time priority matching loop.
//   - internal/coordinator drives proving and settlement per match.
//   - internal/event and internal/store provide the event stream and the
//     durable journal.
//   - relay connects operators over a small HTTP mesh.
package darkbook
