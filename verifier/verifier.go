// Package verifier checks the zero-knowledge proofs of survey responses.
// It validates the encoding of the proof and its public inputs, assembles
// the public input vector in the order the circuit defines it and hands
// everything to an Engine:
//
//	[surveyID, nullifier, merkleRoot, siblings[0], ..., siblings[n-1]]
//
// with the siblings ordered from the leaf level to the root level. Any other
// order makes every proof fail.
package verifier

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/zksurvey/accumulator"
	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/log"
	"github.com/vocdoni/zksurvey/storage"
	"github.com/vocdoni/zksurvey/types"
)

// Request is a response proof as sent by a participant.
type Request struct {
	// Proof is the hex encoded proof, of any even length.
	Proof string `json:"proof"`
	// SurveyID is the survey the response belongs to.
	SurveyID uint64 `json:"surveyId"`
	// Nullifier is the 32 bytes hex encoded nullifier.
	Nullifier string `json:"nullifier"`
	// MerkleProof are the siblings of the commitment path, each one either
	// a 32 bytes hex value or the literal "0".
	MerkleProof []string `json:"merkleProof"`
}

// Verifier verifies response proofs against the current root of the survey
// trees.
type Verifier struct {
	acc    *accumulator.Accumulator
	engine Engine
}

// New returns a Verifier reading the roots from acc and checking the proofs
// with engine.
func New(acc *accumulator.Accumulator, engine Engine) *Verifier {
	return &Verifier{acc: acc, engine: engine}
}

// Validate checks the encoding of every field of the request without any
// storage access: hex proof of even length, 64 hex chars nullifier and path
// nodes (or the "0" literal). The field range is checked later, right before
// the values reach the engine.
func (req *Request) Validate() error {
	if _, err := field.DecodeHex(req.Proof); err != nil {
		return fmt.Errorf("proof: %w", err)
	}
	if err := field.ValidateHex(req.Nullifier, true); err != nil {
		return fmt.Errorf("nullifier: %w", err)
	}
	for i, node := range req.MerkleProof {
		if node == types.EmptyPathNode {
			continue
		}
		if err := field.ValidateHex(node, true); err != nil {
			return types.ErrInvalidMerklePath.Withf("node %d: %v", i, err)
		}
	}
	return nil
}

// checkRange rejects nullifiers and path nodes outside the scalar field.
// Those values are never reduced: the engine would read them modulo the
// field and two encodings would stand for the same public input.
func (req *Request) checkRange() error {
	if _, err := field.ParseCanonicalHex(req.Nullifier); err != nil {
		return fmt.Errorf("nullifier: %w", err)
	}
	for i, node := range req.MerkleProof {
		if node == types.EmptyPathNode {
			continue
		}
		if _, err := field.ParseCanonicalHex(node); err != nil {
			return types.ErrInvalidMerklePath.Withf("node %d: %v", i, err)
		}
	}
	return nil
}

// PublicInputs returns the public input vector of the membership circuit.
// The nullifier and the path nodes are only normalized, they are expected to
// be validated.
func PublicInputs(surveyID uint64, nullifier string, root *big.Int, merkleProof []string) []string {
	inputs := make([]string, 0, 3+len(merkleProof))
	inputs = append(inputs,
		field.ToHexFixed32(field.FromUint64(surveyID)),
		field.NormalizeHex(nullifier),
		field.ToHexFixed32(root),
	)
	for _, node := range merkleProof {
		inputs = append(inputs, field.NormalizeHex(node))
	}
	return inputs
}

// Verify checks the proof of req against the current root of the survey
// tree as seen by r. Malformed requests fail with types.ErrMalformedInput
// before any expensive operation, rejected proofs with
// types.ErrVerificationFailed.
func (v *Verifier) Verify(r storage.Reader, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	tree, err := v.acc.Load(r, req.SurveyID)
	if err != nil {
		return err
	}
	return v.VerifyTree(tree, req)
}

// VerifyTree checks the proof of req against the root of tree. It does not
// touch the storage, so callers can load the tree in a short transaction and
// run the pairing check outside of it.
func (v *Verifier) VerifyTree(tree *accumulator.Tree, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if expected := tree.Depth() * (tree.Arity() - 1); len(req.MerkleProof) != expected {
		return types.ErrInvalidMerklePath.Withf("expected %d nodes, got %d", expected, len(req.MerkleProof))
	}
	if err := req.checkRange(); err != nil {
		return err
	}
	proof, err := field.DecodeHex(req.Proof)
	if err != nil {
		return err
	}
	inputs := PublicInputs(req.SurveyID, req.Nullifier, tree.Root(), req.MerkleProof)
	ok, err := v.engine.Verify(proof, inputs)
	if err != nil {
		log.Warnw("proof verification error", "survey", req.SurveyID, "nullifier", req.Nullifier, "error", err)
		return types.ErrVerification.WithErr(err)
	}
	if !ok {
		log.Warnw("proof rejected", "survey", req.SurveyID, "nullifier", req.Nullifier)
		return types.ErrVerification
	}
	log.Debugw("proof verified", "survey", req.SurveyID, "nullifier", req.Nullifier)
	return nil
}
