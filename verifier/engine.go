package verifier

//go:generate mockgen -source=engine.go -destination=engine_mock.go -package=verifier

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/vocdoni/circom2gnark/parser"
	"github.com/vocdoni/zksurvey/crypto/field"
)

const (
	// EngineGroth16 verifies gnark Groth16 proofs over BN254 serialized in
	// the gnark binary format.
	EngineGroth16 = "groth16"
	// EngineCircom verifies snarkjs Groth16 proofs in JSON format.
	EngineCircom = "circom"
)

// Engine is the succinct proof verification primitive. It receives the raw
// proof and the ordered public inputs as 0x prefixed hex strings. A false
// result or an error both mean the proof is not accepted.
type Engine interface {
	Verify(proof []byte, publicInputs []string) (bool, error)
}

// NewEngine returns the engine of the given kind loaded with the verifying
// key.
func NewEngine(kind string, vk []byte) (Engine, error) {
	switch kind {
	case EngineGroth16:
		return NewGroth16Engine(vk)
	case EngineCircom:
		return NewCircomEngine(vk)
	default:
		return nil, fmt.Errorf("unknown proof engine %q", kind)
	}
}

func parseInputs(publicInputs []string) ([]*big.Int, error) {
	values := make([]*big.Int, len(publicInputs))
	for i, s := range publicInputs {
		v, err := field.ParseHex(s, false)
		if err != nil {
			return nil, fmt.Errorf("public input %d: %w", i, err)
		}
		if !field.Canonical(v) {
			return nil, fmt.Errorf("public input %d out of the field", i)
		}
		values[i] = v
	}
	return values, nil
}

// Groth16Engine verifies gnark Groth16 proofs.
type Groth16Engine struct {
	vk groth16.VerifyingKey
}

// NewGroth16Engine decodes a gnark BN254 verifying key.
func NewGroth16Engine(vk []byte) (*Groth16Engine, error) {
	key := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := key.ReadFrom(bytes.NewReader(vk)); err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}
	return &Groth16Engine{vk: key}, nil
}

// NbPublicInputs returns the number of public inputs the key expects.
func (e *Groth16Engine) NbPublicInputs() int {
	return e.vk.NbPublicWitness()
}

func (e *Groth16Engine) Verify(proof []byte, publicInputs []string) (bool, error) {
	if n := e.vk.NbPublicWitness(); n != len(publicInputs) {
		return false, fmt.Errorf("expected %d public inputs, got %d", n, len(publicInputs))
	}
	values, err := parseInputs(publicInputs)
	if err != nil {
		return false, err
	}
	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return false, fmt.Errorf("read proof: %w", err)
	}
	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return false, err
	}
	ch := make(chan any, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	if err := w.Fill(len(values), 0, ch); err != nil {
		return false, fmt.Errorf("public witness: %w", err)
	}
	if err := groth16.Verify(p, e.vk, w); err != nil {
		return false, err
	}
	return true, nil
}

// CircomEngine verifies the proofs generated by snarkjs for circom circuits,
// converting them to gnark with circom2gnark.
type CircomEngine struct {
	vk *parser.CircomVerificationKey
}

// NewCircomEngine decodes a snarkjs verification key in JSON format.
func NewCircomEngine(vk []byte) (*CircomEngine, error) {
	key, err := parser.UnmarshalCircomVerificationKeyJSON(vk)
	if err != nil {
		return nil, fmt.Errorf("read circom verification key: %w", err)
	}
	return &CircomEngine{vk: key}, nil
}

// Verify expects proof to be the snarkjs proof JSON. The public inputs are
// passed to snarkjs as decimal signals.
func (e *CircomEngine) Verify(proof []byte, publicInputs []string) (bool, error) {
	values, err := parseInputs(publicInputs)
	if err != nil {
		return false, err
	}
	signals := make([]string, len(values))
	for i, v := range values {
		signals[i] = v.String()
	}
	circomProof, err := parser.UnmarshalCircomProofJSON(proof)
	if err != nil {
		return false, fmt.Errorf("read circom proof: %w", err)
	}
	gnarkProof, err := parser.ConvertCircomToGnark(circomProof, e.vk, signals)
	if err != nil {
		return false, err
	}
	// parser.VerifyProof reports a pairing mismatch as an error.
	if ok, err := parser.VerifyProof(gnarkProof); err != nil || !ok {
		return false, nil
	}
	return true, nil
}
