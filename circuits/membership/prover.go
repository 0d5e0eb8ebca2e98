package membership

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/vocdoni/zksurvey/accumulator"
	"github.com/vocdoni/zksurvey/commitment"
	"github.com/vocdoni/zksurvey/crypto/field"
	zkhash "github.com/vocdoni/zksurvey/crypto/hash/poseidon"
)

// Compile compiles the circuit for the given tree depth.
func Compile(depth int) (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, Placeholder(depth))
	if err != nil {
		return nil, fmt.Errorf("compile membership circuit: %w", err)
	}
	return ccs, nil
}

// CompileAndSetup compiles the circuit and runs a Groth16 setup. The setup
// is not a trusted ceremony, it is meant for development and tests.
func CompileAndSetup(depth int) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	ccs, err := Compile(depth)
	if err != nil {
		return nil, nil, nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setup membership circuit: %w", err)
	}
	return ccs, pk, vk, nil
}

// Inputs are the values a participant needs to prove a response.
type Inputs struct {
	Secret       []byte
	InvitationID uint64
	SurveyID     uint64
	Root         *big.Int
	Proof        *accumulator.Proof
}

// Assignment returns the full circuit assignment of the inputs and the
// nullifier it reveals. The membership proof must come from a binary tree.
func (in *Inputs) Assignment(h zkhash.Hasher) (*Circuit, *big.Int, error) {
	nullifier, err := commitment.MakeNullifier(h, in.Secret, in.InvitationID, in.SurveyID)
	if err != nil {
		return nil, nil, err
	}
	depth := len(in.Proof.Siblings)
	if depth == 0 || in.Proof.Index>>uint(depth) != 0 {
		return nil, nil, fmt.Errorf("index %d does not fit a tree of depth %d", in.Proof.Index, depth)
	}
	assignment := &Circuit{
		SurveyID:     field.FromUint64(in.SurveyID),
		Nullifier:    nullifier,
		Root:         in.Root,
		Siblings:     make([]frontend.Variable, depth),
		Secret:       commitment.SecretToField(in.Secret),
		InvitationID: field.FromUint64(in.InvitationID),
		PathIndices:  make([]frontend.Variable, depth),
	}
	for i, s := range in.Proof.Siblings {
		assignment.Siblings[i] = s
		assignment.PathIndices[i] = (in.Proof.Index >> uint(i)) & 1
	}
	return assignment, nullifier, nil
}

// Prove generates the Groth16 proof of the assignment and returns it
// serialized in the gnark binary format.
func Prove(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, assignment *Circuit) ([]byte, error) {
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to create witness: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, witness)
	if err != nil {
		return nil, fmt.Errorf("failed to prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
