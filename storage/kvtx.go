package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vocdoni/zksurvey/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// kvReader implements Reader over a dvote database reader, which is either
// the database itself or an open write transaction. Inside a transaction,
// pending holds the values written so far so they are visible to the
// following reads whatever the database backend.
type kvReader struct {
	r       db.Reader
	pending map[string][]byte
}

func (kr *kvReader) get(prefix, key []byte) ([]byte, error) {
	if data, ok := kr.pending[string(prefix)+string(key)]; ok {
		return data, nil
	}
	return prefixeddb.NewPrefixedReader(kr.r, prefix).Get(key)
}

// getArtifact decodes the artifact stored under prefix+key into out. It
// returns db.ErrKeyNotFound if there is none.
func (kr *kvReader) getArtifact(prefix, key []byte, out any) error {
	data, err := kr.get(prefix, key)
	if err != nil {
		return err
	}
	if err := decodeArtifact(data, out); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	return nil
}

func (kr *kvReader) exists(prefix, key []byte) (bool, error) {
	_, err := kr.get(prefix, key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Tree loads the tree of the survey.
func (kr *kvReader) Tree(surveyID uint64) (*TreeRecord, error) {
	rec := &TreeRecord{}
	if err := kr.getArtifact(treePrefix, uint64Key(surveyID), rec); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, types.ErrTreeNotFound.Withf("survey %d", surveyID)
		}
		return nil, err
	}
	return rec, nil
}

// Invitation loads an invitation by its UUID.
func (kr *kvReader) Invitation(id uuid.UUID) (*Invitation, error) {
	inv := &Invitation{}
	if err := kr.getArtifact(invitationPrefix, id[:], inv); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, types.ErrInvitationNotFound.With(id.String())
		}
		return nil, err
	}
	return inv, nil
}

// Commitment loads the commitment of an invitation.
func (kr *kvReader) Commitment(invitationID uint64) (*CommitmentRecord, error) {
	rec := &CommitmentRecord{}
	if err := kr.getArtifact(commitmentPrefix, uint64Key(invitationID), rec); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, types.ErrCommitmentNotFound.Withf("invitation %d", invitationID)
		}
		return nil, err
	}
	return rec, nil
}

// Nullifier loads a used nullifier.
func (kr *kvReader) Nullifier(hash string) (*NullifierRecord, error) {
	rec := &NullifierRecord{}
	if err := kr.getArtifact(nullifierPrefix, nullifierKey(hash), rec); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, types.ErrNullifierNotFound.With(hash)
		}
		return nil, err
	}
	return rec, nil
}

// kvTx implements Tx over a dvote write transaction. Reads see the writes
// already done in the same transaction.
type kvTx struct {
	kvReader
	w db.WriteTx
}

func (kt *kvTx) set(prefix, key, data []byte) error {
	if err := prefixeddb.NewPrefixedWriteTx(kt.w, prefix).Set(key, data); err != nil {
		return err
	}
	kt.pending[string(prefix)+string(key)] = data
	return nil
}

func (kt *kvTx) setArtifact(prefix, key []byte, artifact any) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return err
	}
	return kt.set(prefix, key, data)
}

// CreateTree stores a new tree with version zero.
func (kt *kvTx) CreateTree(rec *TreeRecord) error {
	key := uint64Key(rec.SurveyID)
	exists, err := kt.exists(treePrefix, key)
	if err != nil {
		return err
	}
	if exists {
		return types.ErrTreeExists.Withf("survey %d", rec.SurveyID)
	}
	rec.Version = 0
	return kt.setArtifact(treePrefix, key, rec)
}

// UpdateTree stores the new leaves if nobody changed the tree since it was
// read.
func (kt *kvTx) UpdateTree(rec *TreeRecord) error {
	current, err := kt.Tree(rec.SurveyID)
	if err != nil {
		return err
	}
	if current.Version != rec.Version {
		return types.ErrTreeStale.Withf("survey %d: version %d, expected %d", rec.SurveyID, current.Version, rec.Version)
	}
	updated := *rec
	updated.Version++
	if err := kt.setArtifact(treePrefix, uint64Key(rec.SurveyID), &updated); err != nil {
		return err
	}
	rec.Version = updated.Version
	return nil
}

// SaveInvitation stores a new invitation. Both the UUID and the numeric id
// must be unused.
func (kt *kvTx) SaveInvitation(inv *Invitation) error {
	exists, err := kt.exists(invitationPrefix, inv.UUID[:])
	if err != nil {
		return err
	}
	if !exists {
		exists, err = kt.exists(invitationIDPrefix, uint64Key(inv.ID))
		if err != nil {
			return err
		}
	}
	if exists {
		return types.ErrInvitationExists.Withf("%s (%d)", inv.UUID, inv.ID)
	}
	if err := kt.setArtifact(invitationPrefix, inv.UUID[:], inv); err != nil {
		return err
	}
	return kt.set(invitationIDPrefix, uint64Key(inv.ID), inv.UUID[:])
}

// SaveCommitment stores the commitment of an invitation. Commitments are
// immutable, a second one for the same invitation is rejected.
func (kt *kvTx) SaveCommitment(rec *CommitmentRecord) error {
	key := uint64Key(rec.InvitationID)
	exists, err := kt.exists(commitmentPrefix, key)
	if err != nil {
		return err
	}
	if exists {
		return types.ErrCommitmentInvalid.Withf("invitation %d already has a commitment", rec.InvitationID)
	}
	return kt.setArtifact(commitmentPrefix, key, rec)
}

// SaveNullifier marks the nullifier as used.
func (kt *kvTx) SaveNullifier(rec *NullifierRecord) error {
	key := nullifierKey(rec.Hash)
	exists, err := kt.exists(nullifierPrefix, key)
	if err != nil {
		return err
	}
	if exists {
		return types.ErrNullifierUsed.With(rec.Hash)
	}
	return kt.setArtifact(nullifierPrefix, key, rec)
}

func nullifierKey(hash string) []byte {
	return []byte(strings.ToLower(hash))
}
