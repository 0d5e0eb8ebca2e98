package accumulator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/storage"
	"github.com/vocdoni/zksurvey/types"
	"go.vocdoni.io/dvote/db/metadb"
)

func newAccumulator(t *testing.T) (*Accumulator, storage.Store) {
	acc, err := New(newHasher(t), 2)
	qt.Assert(t, err, qt.IsNil)
	return acc, storage.New(metadb.NewTest(t))
}

func TestCreateTree(t *testing.T) {
	c := qt.New(t)
	acc, stg := newAccumulator(t)
	ctx := context.Background()

	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		tree, err := acc.CreateTree(tx, 42, 10)
		if err != nil {
			return err
		}
		c.Assert(tree.Root().Sign(), qt.Equals, 0)
		return nil
	}), qt.IsNil)

	err := stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.CreateTree(tx, 42, 10)
		return err
	})
	c.Assert(errors.Is(err, types.ErrTreeExists), qt.IsTrue)

	err = stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.CreateTree(tx, 43, 0)
		return err
	})
	c.Assert(errors.Is(err, types.ErrInvalidTreeParams), qt.IsTrue)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		leaves, err := acc.Leaves(r, 42)
		c.Assert(err, qt.IsNil)
		c.Assert(leaves, qt.HasLen, 0)
		_, err = acc.Root(r, 43)
		c.Assert(errors.Is(err, types.ErrTreeNotFound), qt.IsTrue)
		return nil
	}), qt.IsNil)
}

func TestInsertAndRebuild(t *testing.T) {
	c := qt.New(t)
	acc, stg := newAccumulator(t)
	ctx := context.Background()
	leaves := randomLeaves(9)

	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.CreateTree(tx, 1, 10)
		return err
	}), qt.IsNil)
	for i, leaf := range leaves {
		c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
			idx, err := acc.Insert(tx, 1, leaf)
			c.Assert(idx, qt.Equals, uint64(i))
			return err
		}), qt.IsNil)
	}

	direct, err := NewTree(acc.Hasher(), 10, 2, leaves)
	c.Assert(err, qt.IsNil)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		root, err := acc.Root(r, 1)
		c.Assert(err, qt.IsNil)
		c.Assert(root.Cmp(direct.Root()), qt.Equals, 0)

		stored, err := acc.Leaves(r, 1)
		c.Assert(err, qt.IsNil)
		c.Assert(stored, qt.HasLen, len(leaves))
		for i, l := range leaves {
			c.Assert(stored[i], qt.Equals, field.ToHexFixed32(l))
		}

		for _, leaf := range leaves {
			proof, err := acc.Proof(r, 1, leaf)
			c.Assert(err, qt.IsNil)
			ok, err := VerifyProof(acc.Hasher(), 10, 2, leaf, proof, root)
			c.Assert(err, qt.IsNil)
			c.Assert(ok, qt.IsTrue)
		}
		_, err = acc.Proof(r, 1, big.NewInt(12345))
		c.Assert(errors.Is(err, types.ErrLeafNotFound), qt.IsTrue)
		return nil
	}), qt.IsNil)
}

func TestInsertErrors(t *testing.T) {
	c := qt.New(t)
	acc, stg := newAccumulator(t)
	ctx := context.Background()

	err := stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.Insert(tx, 5, big.NewInt(1))
		return err
	})
	c.Assert(errors.Is(err, types.ErrTreeNotFound), qt.IsTrue)

	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.CreateTree(tx, 5, 2)
		return err
	}), qt.IsNil)

	err = stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.Insert(tx, 5, big.NewInt(0))
		return err
	})
	c.Assert(errors.Is(err, types.ErrMalformedInput), qt.IsTrue)
	err = stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.Insert(tx, 5, field.Modulus())
		return err
	})
	c.Assert(errors.Is(err, types.ErrNonCanonicalField), qt.IsTrue)

	for _, leaf := range randomLeaves(4) {
		c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
			_, err := acc.Insert(tx, 5, leaf)
			return err
		}), qt.IsNil)
	}
	err = stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.Insert(tx, 5, big.NewInt(99))
		return err
	})
	c.Assert(errors.Is(err, types.ErrTreeFull), qt.IsTrue)
	c.Assert(errors.Is(err, types.ErrConflict), qt.IsTrue)
}

// staleWriter fails the first UpdateTree calls, across transactions, as if
// another writer changed the tree in between.
type staleWriter struct {
	failures int
	calls    int
}

type staleTx struct {
	storage.Tx
	w *staleWriter
}

func (w *staleWriter) wrap(tx storage.Tx) storage.Tx {
	return &staleTx{Tx: tx, w: w}
}

func (s *staleTx) UpdateTree(rec *storage.TreeRecord) error {
	s.w.calls++
	if s.w.calls <= s.w.failures {
		return types.ErrTreeStale.Withf("survey %d", rec.SurveyID)
	}
	return s.Tx.UpdateTree(rec)
}

func TestInsertSurfacesStaleTree(t *testing.T) {
	c := qt.New(t)
	acc, stg := newAccumulator(t)
	ctx := context.Background()
	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.CreateTree(tx, 8, 4)
		return err
	}), qt.IsNil)

	// Insert never retries inside the transaction that saw the stale tree.
	w := &staleWriter{failures: 1}
	err := stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.Insert(w.wrap(tx), 8, big.NewInt(6))
		return err
	})
	c.Assert(errors.Is(err, types.ErrStaleTree), qt.IsTrue)
	c.Assert(w.calls, qt.Equals, 1)

	// A fresh transaction succeeds.
	w = &staleWriter{failures: 1}
	c.Assert(storage.UpdateRetryStale(ctx, stg, func(tx storage.Tx) error {
		_, err := acc.Insert(w.wrap(tx), 8, big.NewInt(7))
		return err
	}), qt.IsNil)
	c.Assert(w.calls, qt.Equals, 2)

	// Only one retry.
	w = &staleWriter{failures: 2}
	err = storage.UpdateRetryStale(ctx, stg, func(tx storage.Tx) error {
		_, err := acc.Insert(w.wrap(tx), 8, big.NewInt(8))
		return err
	})
	c.Assert(errors.Is(err, types.ErrStaleTree), qt.IsTrue)
	c.Assert(w.calls, qt.Equals, 2)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		leaves, err := acc.Leaves(r, 8)
		c.Assert(err, qt.IsNil)
		c.Assert(leaves, qt.DeepEquals, []string{field.ToHexFixed32(big.NewInt(7))})
		return nil
	}), qt.IsNil)
}
