// Package commitment derives the commitments and nullifiers of the survey
// participants and enforces that every invitation registers a single
// commitment and every nullifier is used by a single response.
//
// Both values are Poseidon hashes of the participant secret, pre-hashed with
// SHA-256 and reduced into the field, and the invitation id. The nullifier
// adds the survey id as a third input, so it can never be equal to the
// commitment of the same secret.
package commitment

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/google/uuid"
	"github.com/vocdoni/zksurvey/accumulator"
	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/crypto/hash/poseidon"
	"github.com/vocdoni/zksurvey/log"
	"github.com/vocdoni/zksurvey/storage"
	"github.com/vocdoni/zksurvey/types"
)

// SecretToField maps an arbitrary length secret into a field element by
// reducing its SHA-256 digest.
func SecretToField(secret []byte) *big.Int {
	digest := sha256.Sum256(secret)
	return field.ReduceBytes(digest[:])
}

// MakeCommitment returns Poseidon(secret, invitationID).
func MakeCommitment(h poseidon.Hasher, secret []byte, invitationID uint64) (*big.Int, error) {
	return h.Hash(SecretToField(secret), field.FromUint64(invitationID))
}

// MakeNullifier returns Poseidon(secret, invitationID, surveyID).
func MakeNullifier(h poseidon.Hasher, secret []byte, invitationID, surveyID uint64) (*big.Int, error) {
	return h.Hash(SecretToField(secret), field.FromUint64(invitationID), field.FromUint64(surveyID))
}

// SaveResult is returned by SaveCommitment.
type SaveResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Index is the position of the commitment in the survey tree.
	Index uint64 `json:"index"`
}

// VerifyResult is returned by VerifyCommitment.
type VerifyResult struct {
	Success bool     `json:"success"`
	Leaves  []string `json:"leaves"`
}

// Protocol registers commitments and nullifiers. Every operation works on the
// transaction provided by the caller, so it can be part of a larger unit of
// work.
type Protocol struct {
	acc          *accumulator.Accumulator
	defaultDepth int
}

// New returns a Protocol that inserts the commitments in the trees of acc.
// Surveys without a tree get one of depth defaultDepth on their first
// commitment.
func New(acc *accumulator.Accumulator, defaultDepth int) *Protocol {
	return &Protocol{acc: acc, defaultDepth: defaultDepth}
}

// SaveCommitment registers the commitment of the invitation and inserts it
// in the survey tree. The first commitment wins: repeating the same one is a
// no-op success, a different one fails with types.ErrCommitmentInvalid.
func (p *Protocol) SaveCommitment(tx storage.Tx, invitationUUID uuid.UUID, hash string) (*SaveResult, error) {
	value, err := field.ParseCanonicalHex(hash)
	if err != nil {
		return nil, err
	}
	if value.Sign() == 0 {
		return nil, types.ErrInvalidLeaf.With("zero commitment")
	}
	inv, err := tx.Invitation(invitationUUID)
	if err != nil {
		return nil, err
	}
	canonical := field.ToHexFixed32(value)

	existing, err := tx.Commitment(inv.ID)
	switch {
	case err == nil:
		if existing.Hash != canonical {
			return nil, types.ErrCommitmentInvalid.Withf("invitation %s", invitationUUID)
		}
		tree, err := p.acc.Load(tx, inv.SurveyID)
		if err != nil {
			return nil, err
		}
		index, _ := tree.IndexOf(value)
		return &SaveResult{Success: true, Message: "commitment already registered", Index: index}, nil
	case !errors.Is(err, types.ErrCommitmentNotFound):
		return nil, err
	}

	if _, err := tx.Tree(inv.SurveyID); errors.Is(err, types.ErrTreeNotFound) {
		if _, err := p.acc.CreateTree(tx, inv.SurveyID, p.defaultDepth); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if err := tx.SaveCommitment(&storage.CommitmentRecord{
		InvitationID:   inv.ID,
		InvitationUUID: inv.UUID,
		SurveyID:       inv.SurveyID,
		Hash:           canonical,
	}); err != nil {
		return nil, err
	}
	index, err := p.acc.Insert(tx, inv.SurveyID, value)
	if err != nil {
		return nil, err
	}
	log.Infow("commitment saved", "survey", inv.SurveyID, "invitation", inv.ID, "index", index)
	return &SaveResult{Success: true, Message: "commitment registered", Index: index}, nil
}

// VerifyCommitment checks hash is the commitment registered for the
// invitation and returns the current leaves of the survey tree, so the
// participant can build its membership proof.
func (p *Protocol) VerifyCommitment(r storage.Reader, invitationUUID uuid.UUID, hash string) (*VerifyResult, error) {
	value, err := field.ParseCanonicalHex(hash)
	if err != nil {
		return nil, err
	}
	inv, err := r.Invitation(invitationUUID)
	if err != nil {
		return nil, err
	}
	rec, err := r.Commitment(inv.ID)
	if err != nil {
		return nil, err
	}
	if rec.Hash != field.ToHexFixed32(value) {
		return nil, types.ErrCommitmentInvalid.Withf("invitation %s", invitationUUID)
	}
	leaves, err := p.acc.Leaves(r, rec.SurveyID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Success: true, Leaves: leaves}, nil
}

// CheckNullifier fails with types.ErrNullifierUsed if the nullifier was
// already used by an accepted response. It is meant to run before the proof
// verification, which is much more expensive.
func (p *Protocol) CheckNullifier(r storage.Reader, nullifier string) error {
	value, err := field.ParseCanonicalHex(nullifier)
	if err != nil {
		return err
	}
	_, err = r.Nullifier(field.ToHexFixed32(value))
	switch {
	case err == nil:
		return types.ErrNullifierUsed.With(nullifier)
	case errors.Is(err, types.ErrNotFound):
		return nil
	default:
		return err
	}
}

// SaveNullifier records the nullifier as used by the response. The storage
// rejects a second record for the same nullifier.
func (p *Protocol) SaveNullifier(tx storage.Tx, surveyID uint64, nullifier, responseID string) error {
	value, err := field.ParseCanonicalHex(nullifier)
	if err != nil {
		return err
	}
	return tx.SaveNullifier(&storage.NullifierRecord{
		Hash:       field.ToHexFixed32(value),
		SurveyID:   surveyID,
		ResponseID: responseID,
	})
}
