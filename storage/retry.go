package storage

import (
	"context"
	"errors"

	"github.com/vocdoni/zksurvey/log"
	"github.com/vocdoni/zksurvey/types"
)

// UpdateRetryStale runs fn in a write transaction of s. If fn fails with a
// types.ErrStaleTree error, the transaction is discarded and fn runs once
// more in a fresh one, so the second attempt reads the tree that won the
// race instead of the snapshot that lost it.
func UpdateRetryStale(ctx context.Context, s Store, fn func(Tx) error) error {
	err := s.Update(ctx, fn)
	if !errors.Is(err, types.ErrStaleTree) {
		return err
	}
	log.Warnw("stale survey tree, retrying transaction", "error", err)
	return s.Update(ctx, fn)
}
