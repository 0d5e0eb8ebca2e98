package sqlstore

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/vocdoni/zksurvey/storage"
)

type treeRow struct {
	SurveyID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Depth    int    `gorm:"not null"`
	Arity    int    `gorm:"not null"`
	// Leaves is the JSON encoded ordered list of leaves.
	Leaves  string `gorm:"type:text;not null"`
	Version uint64 `gorm:"not null;default:0"`
}

func (treeRow) TableName() string { return "survey_trees" }

func (r *treeRow) record() (*storage.TreeRecord, error) {
	rec := &storage.TreeRecord{
		SurveyID: r.SurveyID,
		Depth:    r.Depth,
		Arity:    r.Arity,
		Version:  r.Version,
	}
	if err := json.Unmarshal([]byte(r.Leaves), &rec.Leaves); err != nil {
		return nil, err
	}
	return rec, nil
}

func encodeLeaves(leaves []string) (string, error) {
	if leaves == nil {
		leaves = []string{}
	}
	data, err := json.Marshal(leaves)
	return string(data), err
}

type invitationRow struct {
	UUID     string `gorm:"primaryKey;size:36"`
	ID       uint64 `gorm:"uniqueIndex;not null"`
	SurveyID uint64 `gorm:"index;not null"`
}

func (invitationRow) TableName() string { return "survey_invitations" }

type commitmentRow struct {
	InvitationID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	InvitationUUID string `gorm:"size:36"`
	SurveyID       uint64 `gorm:"index;not null"`
	Hash           string `gorm:"size:66;not null"`
}

func (commitmentRow) TableName() string { return "survey_commitments" }

func (r *commitmentRow) record() (*storage.CommitmentRecord, error) {
	rec := &storage.CommitmentRecord{
		InvitationID: r.InvitationID,
		SurveyID:     r.SurveyID,
		Hash:         r.Hash,
	}
	if r.InvitationUUID != "" {
		id, err := uuid.Parse(r.InvitationUUID)
		if err != nil {
			return nil, err
		}
		rec.InvitationUUID = id
	}
	return rec, nil
}

type nullifierRow struct {
	Hash       string `gorm:"primaryKey;size:66"`
	SurveyID   uint64 `gorm:"index;not null"`
	ResponseID string `gorm:"not null"`
}

func (nullifierRow) TableName() string { return "survey_nullifiers" }
