package storage

import (
	"context"

	"github.com/google/uuid"
)

// TreeRecord is the persisted state of a survey merkle tree. Only the leaves
// are stored, the root and every internal node are derived from them. The
// Version is increased on every update and used to detect concurrent
// modifications.
type TreeRecord struct {
	SurveyID uint64   `json:"surveyId" cbor:"0,keyasint"`
	Depth    int      `json:"depth" cbor:"1,keyasint"`
	Arity    int      `json:"arity" cbor:"2,keyasint"`
	Leaves   []string `json:"leaves" cbor:"3,keyasint"`
	Version  uint64   `json:"version" cbor:"4,keyasint"`
}

// Invitation links the public invitation UUID with its numeric identifier,
// the one used as commitment input, and the survey it belongs to.
type Invitation struct {
	UUID     uuid.UUID `json:"uuid" cbor:"0,keyasint"`
	ID       uint64    `json:"id" cbor:"1,keyasint"`
	SurveyID uint64    `json:"surveyId" cbor:"2,keyasint"`
}

// CommitmentRecord is the commitment registered for an invitation. Once
// stored it never changes.
type CommitmentRecord struct {
	InvitationID   uint64    `json:"invitationId" cbor:"0,keyasint"`
	InvitationUUID uuid.UUID `json:"uuid" cbor:"1,keyasint"`
	SurveyID       uint64    `json:"surveyId" cbor:"2,keyasint"`
	Hash           string    `json:"hash" cbor:"3,keyasint"`
}

// NullifierRecord marks a nullifier as used by an accepted response.
type NullifierRecord struct {
	Hash       string `json:"hash" cbor:"0,keyasint"`
	SurveyID   uint64 `json:"surveyId" cbor:"1,keyasint"`
	ResponseID string `json:"responseId" cbor:"2,keyasint"`
}

// Reader gives read access to the survey artifacts. Missing artifacts are
// reported with the types.ErrNotFound family of errors.
type Reader interface {
	Tree(surveyID uint64) (*TreeRecord, error)
	Invitation(id uuid.UUID) (*Invitation, error)
	Commitment(invitationID uint64) (*CommitmentRecord, error)
	Nullifier(hash string) (*NullifierRecord, error)
}

// Tx is a read-write unit of work. Every change made through a Tx becomes
// visible atomically when the transaction commits, or not at all.
type Tx interface {
	Reader
	// CreateTree stores a new tree, failing with types.ErrTreeExists if
	// there is already one for the survey.
	CreateTree(rec *TreeRecord) error
	// UpdateTree replaces the leaves of the tree if its stored version is
	// still rec.Version, and increases rec.Version. Otherwise it fails with
	// types.ErrTreeStale.
	UpdateTree(rec *TreeRecord) error
	SaveInvitation(inv *Invitation) error
	SaveCommitment(rec *CommitmentRecord) error
	// SaveNullifier fails with types.ErrNullifierUsed if the hash is
	// already stored.
	SaveNullifier(rec *NullifierRecord) error
}

// Store opens transactions over a storage backend. Update runs fn inside a
// read-write transaction that commits if fn returns nil and is discarded
// otherwise. View runs fn over a consistent read-only snapshot.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Reader) error) error
	Close() error
}
