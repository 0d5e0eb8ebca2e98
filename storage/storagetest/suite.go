// Package storagetest contains a conformance suite every storage.Store
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"github.com/vocdoni/zksurvey/accumulator"
	"github.com/vocdoni/zksurvey/crypto/hash/poseidon"
	"github.com/vocdoni/zksurvey/storage"
	"github.com/vocdoni/zksurvey/types"
)

// Run executes the suite, calling newStore to get a fresh empty store for
// every test.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Trees", func(t *testing.T) { testTrees(t, newStore(t)) })
	t.Run("StaleTree", func(t *testing.T) { testStaleTree(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("Invitations", func(t *testing.T) { testInvitations(t, newStore(t)) })
	t.Run("Commitments", func(t *testing.T) { testCommitments(t, newStore(t)) })
	t.Run("Nullifiers", func(t *testing.T) { testNullifiers(t, newStore(t)) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceledContext(t, newStore(t)) })
	t.Run("ConcurrentInserts", func(t *testing.T) { testConcurrentInserts(t, newStore(t)) })
	t.Run("RetryStale", func(t *testing.T) { testRetryStale(t, newStore(t)) })
}

func testTrees(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx := context.Background()

	err := stg.View(ctx, func(r storage.Reader) error {
		_, err := r.Tree(1)
		return err
	})
	c.Assert(errors.Is(err, types.ErrTreeNotFound), qt.IsTrue)

	err = stg.Update(ctx, func(tx storage.Tx) error {
		if err := tx.CreateTree(&storage.TreeRecord{SurveyID: 1, Depth: 10, Arity: 2}); err != nil {
			return err
		}
		// writes are visible inside the same transaction
		rec, err := tx.Tree(1)
		if err != nil {
			return err
		}
		rec.Leaves = append(rec.Leaves, "0x01")
		return tx.UpdateTree(rec)
	})
	c.Assert(err, qt.IsNil)

	err = stg.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateTree(&storage.TreeRecord{SurveyID: 1, Depth: 4, Arity: 2})
	})
	c.Assert(errors.Is(err, types.ErrTreeExists), qt.IsTrue)
	c.Assert(errors.Is(err, types.ErrConflict), qt.IsTrue)

	err = stg.View(ctx, func(r storage.Reader) error {
		rec, err := r.Tree(1)
		if err != nil {
			return err
		}
		c.Assert(rec.Depth, qt.Equals, 10)
		c.Assert(rec.Arity, qt.Equals, 2)
		c.Assert(rec.Leaves, qt.DeepEquals, []string{"0x01"})
		c.Assert(rec.Version, qt.Equals, uint64(1))
		return nil
	})
	c.Assert(err, qt.IsNil)
}

func testStaleTree(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx := context.Background()

	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		return tx.CreateTree(&storage.TreeRecord{SurveyID: 7, Depth: 2, Arity: 2})
	}), qt.IsNil)

	var stale *storage.TreeRecord
	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		var err error
		stale, err = r.Tree(7)
		return err
	}), qt.IsNil)

	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		rec, err := tx.Tree(7)
		if err != nil {
			return err
		}
		rec.Leaves = []string{"0x01"}
		return tx.UpdateTree(rec)
	}), qt.IsNil)

	// an update based on the old version must not overwrite the leaf
	err := stg.Update(ctx, func(tx storage.Tx) error {
		stale.Leaves = []string{"0x02"}
		return tx.UpdateTree(stale)
	})
	c.Assert(errors.Is(err, types.ErrTreeStale), qt.IsTrue)
	c.Assert(errors.Is(err, types.ErrStaleTree), qt.IsTrue)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		rec, err := r.Tree(7)
		if err != nil {
			return err
		}
		c.Assert(rec.Leaves, qt.DeepEquals, []string{"0x01"})
		return nil
	}), qt.IsNil)
}

func testRollback(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx := context.Background()
	errAbort := errors.New("abort")

	err := stg.Update(ctx, func(tx storage.Tx) error {
		if err := tx.CreateTree(&storage.TreeRecord{SurveyID: 3, Depth: 2, Arity: 2}); err != nil {
			return err
		}
		if err := tx.SaveCommitment(&storage.CommitmentRecord{InvitationID: 1, SurveyID: 3, Hash: "0x01"}); err != nil {
			return err
		}
		return errAbort
	})
	c.Assert(err, qt.ErrorIs, errAbort)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		_, err := r.Tree(3)
		c.Assert(errors.Is(err, types.ErrTreeNotFound), qt.IsTrue)
		_, err = r.Commitment(1)
		c.Assert(errors.Is(err, types.ErrCommitmentNotFound), qt.IsTrue)
		return nil
	}), qt.IsNil)
}

func testInvitations(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx := context.Background()
	inv := &storage.Invitation{UUID: uuid.New(), ID: 11, SurveyID: 5}

	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveInvitation(inv)
	}), qt.IsNil)

	err := stg.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveInvitation(&storage.Invitation{UUID: inv.UUID, ID: 12, SurveyID: 5})
	})
	c.Assert(errors.Is(err, types.ErrInvitationExists), qt.IsTrue)
	err = stg.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveInvitation(&storage.Invitation{UUID: uuid.New(), ID: 11, SurveyID: 5})
	})
	c.Assert(errors.Is(err, types.ErrInvitationExists), qt.IsTrue)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		got, err := r.Invitation(inv.UUID)
		if err != nil {
			return err
		}
		c.Assert(got, qt.DeepEquals, inv)
		_, err = r.Invitation(uuid.New())
		c.Assert(errors.Is(err, types.ErrInvitationNotFound), qt.IsTrue)
		return nil
	}), qt.IsNil)
}

func testCommitments(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx := context.Background()
	rec := &storage.CommitmentRecord{InvitationID: 21, InvitationUUID: uuid.New(), SurveyID: 5, Hash: "0x0a"}

	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveCommitment(rec)
	}), qt.IsNil)

	err := stg.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveCommitment(&storage.CommitmentRecord{InvitationID: 21, SurveyID: 5, Hash: "0x0b"})
	})
	c.Assert(errors.Is(err, types.ErrConflict), qt.IsTrue)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		got, err := r.Commitment(21)
		if err != nil {
			return err
		}
		c.Assert(got, qt.DeepEquals, rec)
		return nil
	}), qt.IsNil)
}

func testNullifiers(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx := context.Background()
	rec := &storage.NullifierRecord{Hash: "0x0c", SurveyID: 5, ResponseID: "response-1"}

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		_, err := r.Nullifier(rec.Hash)
		c.Assert(errors.Is(err, types.ErrNotFound), qt.IsTrue)
		return nil
	}), qt.IsNil)

	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveNullifier(rec)
	}), qt.IsNil)

	err := stg.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveNullifier(&storage.NullifierRecord{Hash: "0x0c", SurveyID: 5, ResponseID: "response-2"})
	})
	c.Assert(errors.Is(err, types.ErrNullifierUsed), qt.IsTrue)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		got, err := r.Nullifier(rec.Hash)
		if err != nil {
			return err
		}
		c.Assert(got, qt.DeepEquals, rec)
		return nil
	}), qt.IsNil)
}

func testCanceledContext(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := stg.Update(ctx, func(storage.Tx) error {
		called = true
		return nil
	})
	c.Assert(err, qt.ErrorIs, context.Canceled)
	c.Assert(called, qt.IsFalse)
}

func testConcurrentInserts(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx := context.Background()
	hasher, err := poseidon.New()
	c.Assert(err, qt.IsNil)
	acc, err := accumulator.New(hasher, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(stg.Update(ctx, func(tx storage.Tx) error {
		_, err := acc.CreateTree(tx, 1, 8)
		return err
	}), qt.IsNil)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := stg.Update(ctx, func(tx storage.Tx) error {
				_, err := acc.Insert(tx, 1, big.NewInt(int64(i+1)))
				return err
			})
			qt.Check(t, err, qt.IsNil)
		}(i)
	}
	wg.Wait()

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		rec, err := r.Tree(1)
		if err != nil {
			return err
		}
		c.Assert(rec.Leaves, qt.HasLen, writers)
		c.Assert(rec.Version, qt.Equals, uint64(writers))
		return nil
	}), qt.IsNil)
}

func testRetryStale(t *testing.T, stg storage.Store) {
	c := qt.New(t)
	ctx := context.Background()

	// the first attempt writes and then fails, its write must not survive
	attempts := 0
	err := storage.UpdateRetryStale(ctx, stg, func(tx storage.Tx) error {
		attempts++
		if attempts == 1 {
			if err := tx.SaveNullifier(&storage.NullifierRecord{Hash: "0x01", SurveyID: 1}); err != nil {
				return err
			}
			return types.ErrTreeStale.With("survey 1")
		}
		return tx.SaveNullifier(&storage.NullifierRecord{Hash: "0x02", SurveyID: 1})
	})
	c.Assert(err, qt.IsNil)
	c.Assert(attempts, qt.Equals, 2)

	c.Assert(stg.View(ctx, func(r storage.Reader) error {
		_, err := r.Nullifier("0x01")
		c.Assert(errors.Is(err, types.ErrNotFound), qt.IsTrue)
		_, err = r.Nullifier("0x02")
		c.Assert(err, qt.IsNil)
		return nil
	}), qt.IsNil)

	attempts = 0
	err = storage.UpdateRetryStale(ctx, stg, func(storage.Tx) error {
		attempts++
		return types.ErrTreeStale.With("survey 1")
	})
	c.Assert(errors.Is(err, types.ErrStaleTree), qt.IsTrue)
	c.Assert(attempts, qt.Equals, 2)

	// other errors are not retried
	attempts = 0
	err = storage.UpdateRetryStale(ctx, stg, func(storage.Tx) error {
		attempts++
		return types.ErrTreeNotFound.With("survey 2")
	})
	c.Assert(errors.Is(err, types.ErrTreeNotFound), qt.IsTrue)
	c.Assert(attempts, qt.Equals, 1)
}
