// Package accumulator implements the append-only survey merkle trees. Only
// the ordered list of leaves is persisted; the root and the membership
// proofs are computed by rebuilding the tree from the leaves on every read.
package accumulator

import (
	"math/big"

	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/crypto/hash/poseidon"
	"github.com/vocdoni/zksurvey/log"
	"github.com/vocdoni/zksurvey/storage"
	"github.com/vocdoni/zksurvey/types"
)

// Accumulator manages the survey trees stored in a storage.Tx.
type Accumulator struct {
	hasher poseidon.Hasher
	arity  int
}

// New returns an Accumulator creating trees with the given arity.
func New(hasher poseidon.Hasher, arity int) (*Accumulator, error) {
	if _, err := Capacity(1, arity); err != nil {
		return nil, err
	}
	return &Accumulator{hasher: hasher, arity: arity}, nil
}

// Hasher returns the hash function of the trees.
func (a *Accumulator) Hasher() poseidon.Hasher {
	return a.hasher
}

// CreateTree creates the empty tree of the survey. It fails with
// types.ErrTreeExists if the survey already has one.
func (a *Accumulator) CreateTree(tx storage.Tx, surveyID uint64, depth int) (*Tree, error) {
	tree, err := NewTree(a.hasher, depth, a.arity, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateTree(&storage.TreeRecord{
		SurveyID: surveyID,
		Depth:    depth,
		Arity:    a.arity,
		Leaves:   []string{},
	}); err != nil {
		return nil, err
	}
	log.Infow("survey tree created", "survey", surveyID, "depth", depth, "arity", a.arity)
	return tree, nil
}

// Insert appends leaf to the survey tree and returns its index. The leaf
// list is read and written inside tx; if the stored tree changed in between
// it fails with types.ErrTreeStale and tx must be discarded. Callers retry
// with storage.UpdateRetryStale.
func (a *Accumulator) Insert(tx storage.Tx, surveyID uint64, leaf *big.Int) (uint64, error) {
	if !field.Canonical(leaf) {
		return 0, types.ErrNonCanonicalField.With("leaf")
	}
	if leaf.Sign() == 0 {
		return 0, types.ErrInvalidLeaf.With("the zero element is reserved for padding")
	}
	rec, err := tx.Tree(surveyID)
	if err != nil {
		return 0, err
	}
	capacity, err := Capacity(rec.Depth, rec.Arity)
	if err != nil {
		return 0, err
	}
	if uint64(len(rec.Leaves)) >= capacity {
		return 0, types.ErrTreeFull.Withf("survey %d has %d leaves", surveyID, len(rec.Leaves))
	}
	index := uint64(len(rec.Leaves))
	rec.Leaves = append(rec.Leaves, field.ToHexFixed32(leaf))
	if err := tx.UpdateTree(rec); err != nil {
		return 0, err
	}
	log.Debugw("leaf inserted", "survey", surveyID, "index", index, "leaf", rec.Leaves[index])
	return index, nil
}

// Load rebuilds the survey tree from its persisted leaves.
func (a *Accumulator) Load(r storage.Reader, surveyID uint64) (*Tree, error) {
	rec, err := r.Tree(surveyID)
	if err != nil {
		return nil, err
	}
	leaves, err := parseLeaves(rec.Leaves)
	if err != nil {
		return nil, err
	}
	return NewTree(a.hasher, rec.Depth, rec.Arity, leaves)
}

// Root returns the current root of the survey tree.
func (a *Accumulator) Root(r storage.Reader, surveyID uint64) (*big.Int, error) {
	tree, err := a.Load(r, surveyID)
	if err != nil {
		return nil, err
	}
	return tree.Root(), nil
}

// Proof returns the membership proof of the first occurrence of leaf in the
// survey tree, or types.ErrLeafNotFound.
func (a *Accumulator) Proof(r storage.Reader, surveyID uint64, leaf *big.Int) (*Proof, error) {
	tree, err := a.Load(r, surveyID)
	if err != nil {
		return nil, err
	}
	return tree.Proof(leaf)
}

// Leaves returns the ordered leaves of the survey tree.
func (a *Accumulator) Leaves(r storage.Reader, surveyID uint64) ([]string, error) {
	rec, err := r.Tree(surveyID)
	if err != nil {
		return nil, err
	}
	if rec.Leaves == nil {
		return []string{}, nil
	}
	return rec.Leaves, nil
}
