package sqlstore

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/vocdoni/zksurvey/storage"
	"github.com/vocdoni/zksurvey/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqlReader struct {
	db   *gorm.DB
	lock bool
}

// Tree loads the tree of the survey, locking its row when reading inside a
// write transaction.
func (r *sqlReader) Tree(surveyID uint64) (*storage.TreeRecord, error) {
	q := r.db
	if r.lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row treeRow
	if err := q.Where("survey_id = ?", surveyID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrTreeNotFound.Withf("survey %d", surveyID)
		}
		return nil, err
	}
	return row.record()
}

func (r *sqlReader) Invitation(id uuid.UUID) (*storage.Invitation, error) {
	var row invitationRow
	if err := r.db.Where("uuid = ?", id.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrInvitationNotFound.With(id.String())
		}
		return nil, err
	}
	return &storage.Invitation{UUID: id, ID: row.ID, SurveyID: row.SurveyID}, nil
}

func (r *sqlReader) Commitment(invitationID uint64) (*storage.CommitmentRecord, error) {
	var row commitmentRow
	if err := r.db.Where("invitation_id = ?", invitationID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrCommitmentNotFound.Withf("invitation %d", invitationID)
		}
		return nil, err
	}
	return row.record()
}

func (r *sqlReader) Nullifier(hash string) (*storage.NullifierRecord, error) {
	var row nullifierRow
	if err := r.db.Where("hash = ?", strings.ToLower(hash)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNullifierNotFound.With(hash)
		}
		return nil, err
	}
	return &storage.NullifierRecord{Hash: row.Hash, SurveyID: row.SurveyID, ResponseID: row.ResponseID}, nil
}

type sqlTx struct {
	sqlReader
}

func (tx *sqlTx) CreateTree(rec *storage.TreeRecord) error {
	leaves, err := encodeLeaves(rec.Leaves)
	if err != nil {
		return err
	}
	row := &treeRow{SurveyID: rec.SurveyID, Depth: rec.Depth, Arity: rec.Arity, Leaves: leaves}
	if err := tx.db.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.ErrTreeExists.Withf("survey %d", rec.SurveyID)
		}
		return err
	}
	rec.Version = 0
	return nil
}

// UpdateTree writes the leaves only if the row still has the version read,
// compare-and-swap style.
func (tx *sqlTx) UpdateTree(rec *storage.TreeRecord) error {
	leaves, err := encodeLeaves(rec.Leaves)
	if err != nil {
		return err
	}
	res := tx.db.Model(&treeRow{}).
		Where("survey_id = ? AND version = ?", rec.SurveyID, rec.Version).
		Updates(map[string]any{
			"leaves":  leaves,
			"version": rec.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := tx.Tree(rec.SurveyID); err != nil {
			return err
		}
		return types.ErrTreeStale.Withf("survey %d: expected version %d", rec.SurveyID, rec.Version)
	}
	rec.Version++
	return nil
}

func (tx *sqlTx) SaveInvitation(inv *storage.Invitation) error {
	row := &invitationRow{UUID: inv.UUID.String(), ID: inv.ID, SurveyID: inv.SurveyID}
	if err := tx.db.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.ErrInvitationExists.Withf("%s (%d)", inv.UUID, inv.ID)
		}
		return err
	}
	return nil
}

func (tx *sqlTx) SaveCommitment(rec *storage.CommitmentRecord) error {
	row := &commitmentRow{
		InvitationID:   rec.InvitationID,
		InvitationUUID: rec.InvitationUUID.String(),
		SurveyID:       rec.SurveyID,
		Hash:           rec.Hash,
	}
	if err := tx.db.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.ErrCommitmentInvalid.Withf("invitation %d already has a commitment", rec.InvitationID)
		}
		return err
	}
	return nil
}

func (tx *sqlTx) SaveNullifier(rec *storage.NullifierRecord) error {
	row := &nullifierRow{Hash: strings.ToLower(rec.Hash), SurveyID: rec.SurveyID, ResponseID: rec.ResponseID}
	if err := tx.db.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.ErrNullifierUsed.With(rec.Hash)
		}
		return err
	}
	return nil
}
