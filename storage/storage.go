// storage package persists the survey artifacts in a prefixed key-value
// store. The following prefixes are used:
//   - 't/' for survey merkle trees (leaves only)
//   - 'i/' for invitations by UUID, 'ii/' for the invitation id index
//   - 'c/' for commitments by invitation id
//   - 'n/' for used nullifiers
//
// Write transactions are serialized with a single writer lock, so the read,
// append and write of a tree leaf list can never interleave with another
// insertion. Readers share the lock and always observe committed states.
package storage

import (
	"context"
	"fmt"
	"sync"

	"go.vocdoni.io/dvote/db"
)

var (
	// Prefixes for the keys in the database.
	treePrefix         = []byte("t/")
	invitationPrefix   = []byte("i/")
	invitationIDPrefix = []byte("ii/")
	commitmentPrefix   = []byte("c/")
	nullifierPrefix    = []byte("n/")
)

// Storage is the key-value implementation of Store.
type Storage struct {
	db         db.Database
	globalLock sync.RWMutex
}

var _ Store = (*Storage)(nil)

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Update runs fn inside a write transaction. Only one write transaction runs
// at a time.
func (s *Storage) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	tx := &kvTx{
		kvReader: kvReader{r: wTx, pending: make(map[string][]byte)},
		w:        wTx,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := wTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn with read access to the last committed state.
func (s *Storage) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.globalLock.RLock()
	defer s.globalLock.RUnlock()
	return fn(&kvReader{r: s.db})
}
