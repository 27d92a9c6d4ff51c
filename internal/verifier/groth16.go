// groth16.go - Groth16 implementation of the proof oracle.
//
// Proof bytes are opaque to the rest of the system; this adapter unmarshals
// them, rebuilds the public witness from the statement, and verifies against
// the circuit's verifying key. Key material is generated once and cached on
// disk.

package verifier

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"

	"github.com/sanjay-sol/darkbook/internal/merkle"
)

// Keys bundles the compiled constraint system and Groth16 key pair for one
// circuit.
type Keys struct {
	CCS constraint.ConstraintSystem
	PK  groth16.ProvingKey
	VK  groth16.VerifyingKey
}

// Setup compiles the circuit and generates or loads its Groth16 keys from
// keyDir, keyed by name.
func Setup(circuit frontend.Circuit, keyDir, name string) (*Keys, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("compile %s circuit: %w", name, err)
	}
	pkPath := filepath.Join(keyDir, name+"_pk.bin")
	vkPath := filepath.Join(keyDir, name+"_vk.bin")
	pk, vk, err := setupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		return nil, err
	}
	return &Keys{CCS: ccs, PK: pk, VK: vk}, nil
}

// setupOrLoadKeys loads Groth16 keys from disk if present, otherwise runs the
// trusted setup and caches the result.
func setupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := loadProvingKey(pkPath)
	vk, vkErr := loadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	if err := saveKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := saveKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

func loadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(f); err != nil {
		return nil, err
	}
	return pk, nil
}

func loadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, err
	}
	return vk, nil
}

func saveKey(path string, key io.WriterTo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := key.WriteTo(f); err != nil {
		return err
	}
	return nil
}

// Groth16Verifier verifies all three statement kinds against their verifying
// keys.
type Groth16Verifier struct {
	order   groth16.VerifyingKey
	match   groth16.VerifyingKey
	balance groth16.VerifyingKey
	log     zerolog.Logger
}

// NewGroth16Verifier wires the three verifying keys into a Verifier.
func NewGroth16Verifier(order, match, balance groth16.VerifyingKey, log zerolog.Logger) *Groth16Verifier {
	return &Groth16Verifier{
		order:   order,
		match:   match,
		balance: balance,
		log:     log.With().Str("component", "verifier").Logger(),
	}
}

func (v *Groth16Verifier) VerifyOrderValidity(proof []byte, st OrderStatement) bool {
	assignment := &OrderCircuit{
		Commitment: HashToField(st.Commitment),
		Root:       HashToField(st.Root),
		Nullifier:  HashToField(st.Nullifier),
		MarketID:   st.MarketID,
	}
	return v.verify(proof, v.order, assignment, "order")
}

func (v *Groth16Verifier) VerifyMatch(proof []byte, st MatchStatement) bool {
	assignment := &MatchCircuit{
		CommitmentA: HashToField(st.CommitmentA),
		CommitmentB: HashToField(st.CommitmentB),
		FillHash:    HashToField(st.FillHash),
		Price:       st.Price,
	}
	return v.verify(proof, v.match, assignment, "match")
}

func (v *Groth16Verifier) VerifyBalanceTransition(proof []byte, st BalanceStatement) bool {
	assignment := &BalanceCircuit{
		OldRoot:     HashToField(st.OldRoot),
		NewRoot:     HashToField(st.NewRoot),
		CommitmentA: HashToField(st.CommitmentA),
		CommitmentB: HashToField(st.CommitmentB),
	}
	return v.verify(proof, v.balance, assignment, "balance")
}

func (v *Groth16Verifier) verify(proofBytes []byte, vk groth16.VerifyingKey, assignment frontend.Circuit, kind string) bool {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		v.log.Debug().Err(err).Str("kind", kind).Msg("proof unmarshal rejected")
		return false
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		v.log.Debug().Err(err).Str("kind", kind).Msg("public witness rejected")
		return false
	}
	if err := groth16.Verify(proof, vk, w); err != nil {
		v.log.Debug().Err(err).Str("kind", kind).Msg("proof rejected")
		return false
	}
	return true
}

// Prove generates a proof for the given full assignment under keys.
func Prove(keys *Keys, assignment frontend.Circuit) ([]byte, error) {
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(keys.CCS, keys.PK, w)
	if err != nil {
		return nil, fmt.Errorf("groth16 prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HashToField reduces an opaque 32-byte value into the BN254 scalar field,
// matching the reduction the native hasher applies. Provers use it to feed
// hashes into circuit assignments.
func HashToField(h merkle.Hash) *big.Int {
	var e fr.Element
	e.SetBytes(h[:])
	return e.BigInt(new(big.Int))
}
