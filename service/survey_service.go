// Package service wires the survey components together behind a
// SurveyService with a Start/Stop lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/vocdoni/zksurvey/accumulator"
	"github.com/vocdoni/zksurvey/commitment"
	"github.com/vocdoni/zksurvey/config"
	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/crypto/hash/poseidon"
	"github.com/vocdoni/zksurvey/log"
	"github.com/vocdoni/zksurvey/storage"
	"github.com/vocdoni/zksurvey/storage/sqlstore"
	"github.com/vocdoni/zksurvey/types"
	"github.com/vocdoni/zksurvey/verifier"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

// SurveyService owns the storage, the hasher and the proof engine, and
// exposes the survey operations. Every operation runs in its own
// transaction; Update and View let callers group several of them.
type SurveyService struct {
	cfg    *config.Config
	mu     sync.Mutex
	cancel context.CancelFunc

	store    storage.Store
	hasher   poseidon.Hasher
	engine   verifier.Engine
	acc      *accumulator.Accumulator
	protocol *commitment.Protocol
	verifier *verifier.Verifier
}

// New returns a SurveyService. If engine is nil, Start loads the verifying
// key configured in cfg.
func New(cfg *config.Config, engine verifier.Engine) *SurveyService {
	return &SurveyService{cfg: cfg, engine: engine}
}

// Start opens the storage and initializes the components. It returns an
// error if the service is already running.
func (s *SurveyService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("service already running")
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	hasher, err := poseidon.New()
	if err != nil {
		return err
	}
	if hasher.Version() != s.cfg.CircuitVersion {
		return fmt.Errorf("circuit built for %q, hasher is %q", s.cfg.CircuitVersion, hasher.Version())
	}
	engine := s.engine
	if engine == nil {
		if engine, err = s.loadEngine(ctx); err != nil {
			return err
		}
	}
	store, err := openStore(s.cfg)
	if err != nil {
		return err
	}
	acc, err := accumulator.New(hasher, s.cfg.TreeArity)
	if err != nil {
		_ = store.Close()
		return err
	}

	_, s.cancel = context.WithCancel(ctx)
	s.store = store
	s.hasher = hasher
	s.engine = engine
	s.acc = acc
	s.protocol = commitment.New(acc, s.cfg.TreeDepth)
	s.verifier = verifier.New(acc, engine)
	log.Infow("survey service started", "db", s.cfg.DBType, "engine", s.cfg.Engine,
		"depth", s.cfg.TreeDepth, "arity", s.cfg.TreeArity, "hasher", hasher.Version())
	return nil
}

// Stop closes the storage.
func (s *SurveyService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	if err := s.store.Close(); err != nil {
		log.Warnw("error closing storage", "error", err)
	}
}

func (s *SurveyService) loadEngine(ctx context.Context) (verifier.Engine, error) {
	s.cfg.ApplyArtifactsDir()
	artifact, err := s.cfg.VerifyingKeyArtifact()
	if err != nil {
		return nil, err
	}
	if err := artifact.Load(ctx); err != nil {
		return nil, fmt.Errorf("load verifying key: %w", err)
	}
	return verifier.NewEngine(s.cfg.Engine, artifact.Content)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.DBType {
	case config.DBTypeSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		store, err := sqlstore.OpenSQLite(cfg.SQLiteSource())
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil
	default:
		database, err := metadb.New(db.TypePebble, cfg.PebbleDir())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return storage.New(database), nil
	}
}

// Hasher returns the hash function shared by the trees and the protocol.
func (s *SurveyService) Hasher() poseidon.Hasher { return s.hasher }

// Update runs fn in a single write transaction.
func (s *SurveyService) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.store.Update(ctx, fn)
}

// View runs fn over a consistent read-only snapshot.
func (s *SurveyService) View(ctx context.Context, fn func(storage.Reader) error) error {
	return s.store.View(ctx, fn)
}

// CreateTree creates an empty tree for the survey. A depth of zero uses the
// configured default.
func (s *SurveyService) CreateTree(ctx context.Context, surveyID uint64, depth int) error {
	if depth == 0 {
		depth = s.cfg.TreeDepth
	}
	return s.store.Update(ctx, func(tx storage.Tx) error {
		_, err := s.acc.CreateTree(tx, surveyID, depth)
		return err
	})
}

// AddLeaf inserts a hex encoded leaf in the survey tree and returns its
// index.
func (s *SurveyService) AddLeaf(ctx context.Context, surveyID uint64, leaf string) (uint64, error) {
	value, err := field.ParseCanonicalHex(leaf)
	if err != nil {
		return 0, err
	}
	var index uint64
	err = storage.UpdateRetryStale(ctx, s.store, func(tx storage.Tx) error {
		var err error
		index, err = s.acc.Insert(tx, surveyID, value)
		return err
	})
	return index, err
}

// GetRoot returns the current root of the survey tree.
func (s *SurveyService) GetRoot(ctx context.Context, surveyID uint64) (*big.Int, error) {
	var root *big.Int
	err := s.store.View(ctx, func(r storage.Reader) error {
		var err error
		root, err = s.acc.Root(r, surveyID)
		return err
	})
	return root, err
}

// GetLeaves returns the leaves of the survey tree in insertion order.
func (s *SurveyService) GetLeaves(ctx context.Context, surveyID uint64) ([]string, error) {
	var leaves []string
	err := s.store.View(ctx, func(r storage.Reader) error {
		var err error
		leaves, err = s.acc.Leaves(r, surveyID)
		return err
	})
	return leaves, err
}

// ProofData is the membership proof of a leaf together with the root it
// leads to.
type ProofData struct {
	Index    uint64   `json:"index"`
	Siblings []string `json:"siblings"`
	Root     string   `json:"root"`
}

// GetProofData returns the membership proof of leaf in the survey tree.
func (s *SurveyService) GetProofData(ctx context.Context, surveyID uint64, leaf string) (*ProofData, error) {
	value, err := field.ParseCanonicalHex(leaf)
	if err != nil {
		return nil, err
	}
	var data *ProofData
	err = s.store.View(ctx, func(r storage.Reader) error {
		tree, err := s.acc.Load(r, surveyID)
		if err != nil {
			return err
		}
		proof, err := tree.Proof(value)
		if err != nil {
			return err
		}
		data = &ProofData{
			Index:    proof.Index,
			Siblings: proof.SiblingsHex(),
			Root:     field.ToHexFixed32(tree.Root()),
		}
		return nil
	})
	return data, err
}

// RegisterInvitation issues a new invitation for the survey.
func (s *SurveyService) RegisterInvitation(ctx context.Context, surveyID, invitationID uint64) (*storage.Invitation, error) {
	inv := &storage.Invitation{
		UUID:     uuid.New(),
		ID:       invitationID,
		SurveyID: surveyID,
	}
	if err := s.store.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveInvitation(inv)
	}); err != nil {
		return nil, err
	}
	log.Debugw("invitation registered", "survey", surveyID, "invitation", invitationID, "uuid", inv.UUID)
	return inv, nil
}

// SaveCommitment registers the commitment of the invitation and inserts it
// in the survey tree.
func (s *SurveyService) SaveCommitment(ctx context.Context, invitationUUID uuid.UUID, hash string) (*commitment.SaveResult, error) {
	var res *commitment.SaveResult
	err := storage.UpdateRetryStale(ctx, s.store, func(tx storage.Tx) error {
		var err error
		res, err = s.protocol.SaveCommitment(tx, invitationUUID, hash)
		return err
	})
	return res, err
}

// VerifyCommitment checks the commitment of the invitation and returns the
// leaves of its survey tree.
func (s *SurveyService) VerifyCommitment(ctx context.Context, invitationUUID uuid.UUID, hash string) (*commitment.VerifyResult, error) {
	var res *commitment.VerifyResult
	err := s.store.View(ctx, func(r storage.Reader) error {
		var err error
		res, err = s.protocol.VerifyCommitment(r, invitationUUID, hash)
		return err
	})
	return res, err
}

// Verify checks a response proof against the current survey root without
// consuming its nullifier. The proof is verified outside of any storage
// transaction.
func (s *SurveyService) Verify(ctx context.Context, req *verifier.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	var tree *accumulator.Tree
	if err := s.store.View(ctx, func(r storage.Reader) error {
		var err error
		tree, err = s.acc.Load(r, req.SurveyID)
		return err
	}); err != nil {
		return err
	}
	return s.verifier.VerifyTree(tree, req)
}

// submitAttempts bounds how many times SubmitResponse verifies a proof when
// the survey root keeps changing underneath it.
const submitAttempts = 2

// SubmitResponse accepts a response: the nullifier must be unused, the proof
// valid for the current root, and then the nullifier is consumed. The proof
// is verified against a snapshot of the tree without holding the write
// transaction; the nullifier is only saved if the root is still the one the
// proof was checked against, otherwise verification is repeated.
func (s *SurveyService) SubmitResponse(ctx context.Context, responseID string, req *verifier.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	for attempt := 1; attempt <= submitAttempts; attempt++ {
		var tree *accumulator.Tree
		if err := s.store.View(ctx, func(r storage.Reader) error {
			if err := s.protocol.CheckNullifier(r, req.Nullifier); err != nil {
				return err
			}
			var err error
			tree, err = s.acc.Load(r, req.SurveyID)
			return err
		}); err != nil {
			return err
		}
		if err := s.verifier.VerifyTree(tree, req); err != nil {
			return err
		}
		verifiedRoot := tree.Root()

		err := s.store.Update(ctx, func(tx storage.Tx) error {
			if err := s.protocol.CheckNullifier(tx, req.Nullifier); err != nil {
				return err
			}
			root, err := s.acc.Root(tx, req.SurveyID)
			if err != nil {
				return err
			}
			if root.Cmp(verifiedRoot) != 0 {
				return types.ErrTreeStale.Withf("survey %d: root changed during verification", req.SurveyID)
			}
			return s.protocol.SaveNullifier(tx, req.SurveyID, req.Nullifier, responseID)
		})
		if errors.Is(err, types.ErrStaleTree) {
			log.Warnw("survey root changed while verifying response", "survey", req.SurveyID,
				"response", responseID, "attempt", attempt)
			continue
		}
		if err != nil {
			return err
		}
		log.Infow("response accepted", "survey", req.SurveyID, "response", responseID)
		return nil
	}
	return types.ErrTreeStale.Withf("survey %d: root changed during verification", req.SurveyID)
}

// CheckNullifier fails with types.ErrNullifierUsed if the nullifier was
// already consumed.
func (s *SurveyService) CheckNullifier(ctx context.Context, nullifier string) error {
	return s.store.View(ctx, func(r storage.Reader) error {
		return s.protocol.CheckNullifier(r, nullifier)
	})
}
