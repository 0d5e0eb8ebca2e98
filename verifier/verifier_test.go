package verifier

import (
	"context"
	"errors"
	"math/big"
	"os"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/zksurvey/accumulator"
	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/crypto/hash/poseidon"
	"github.com/vocdoni/zksurvey/storage"
	"github.com/vocdoni/zksurvey/types"
	"go.uber.org/mock/gomock"
	"go.vocdoni.io/dvote/db/metadb"
)

const (
	testSurvey = 42
	testDepth  = 10
)

var (
	testNullifier = "0x" + strings.Repeat("1", 64)
	testLeaf      = big.NewInt(123456789)
)

type testEnv struct {
	stg    storage.Store
	acc    *accumulator.Accumulator
	engine *MockEngine
	v      *Verifier
	root   *big.Int
	path   []string
}

func newTestEnv(t *testing.T) *testEnv {
	c := qt.New(t)
	h, err := poseidon.New()
	c.Assert(err, qt.IsNil)
	acc, err := accumulator.New(h, 2)
	c.Assert(err, qt.IsNil)
	env := &testEnv{
		stg:    storage.New(metadb.NewTest(t)),
		acc:    acc,
		engine: NewMockEngine(gomock.NewController(t)),
	}
	env.v = New(acc, env.engine)
	c.Assert(env.stg.Update(context.Background(), func(tx storage.Tx) error {
		if _, err := acc.CreateTree(tx, testSurvey, testDepth); err != nil {
			return err
		}
		_, err := acc.Insert(tx, testSurvey, testLeaf)
		return err
	}), qt.IsNil)
	c.Assert(env.stg.View(context.Background(), func(r storage.Reader) error {
		proof, err := acc.Proof(r, testSurvey, testLeaf)
		if err != nil {
			return err
		}
		env.path = proof.SiblingsHex()
		env.root, err = acc.Root(r, testSurvey)
		return err
	}), qt.IsNil)
	return env
}

func (env *testEnv) verify(req *Request) error {
	return env.stg.View(context.Background(), func(r storage.Reader) error {
		return env.v.Verify(r, req)
	})
}

func TestPublicInputsOrder(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(t)

	path := append([]string{}, env.path...)
	path[3] = types.EmptyPathNode
	expected := []string{
		"0x" + strings.Repeat("0", 62) + "2a",
		testNullifier,
		field.ToHexFixed32(env.root),
	}
	expected = append(expected, env.path...)
	expected[3+3] = "0x0"

	env.engine.EXPECT().Verify([]byte{0xca, 0xfe}, expected).Return(true, nil)
	c.Assert(env.verify(&Request{
		Proof:       "cafe",
		SurveyID:    testSurvey,
		Nullifier:   strings.TrimPrefix(testNullifier, "0x"),
		MerkleProof: path,
	}), qt.IsNil)
}

func TestVerificationFailures(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(t)
	req := &Request{Proof: "0x00", SurveyID: testSurvey, Nullifier: testNullifier, MerkleProof: env.path}

	env.engine.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(false, nil)
	err := env.verify(req)
	c.Assert(errors.Is(err, types.ErrVerificationFailed), qt.IsTrue)

	env.engine.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(false, errors.New("pairing mismatch"))
	err = env.verify(req)
	c.Assert(errors.Is(err, types.ErrVerificationFailed), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, ".*pairing mismatch")
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t)
	shortPath := env.path[:testDepth-1]
	badNode := append([]string{}, env.path...)
	badNode[0] = "0x" + strings.Repeat("a", 63)
	outOfField := append([]string{}, env.path...)
	outOfField[0] = "0x" + strings.Repeat("f", 64)

	for _, tc := range []struct {
		name string
		req  *Request
		err  error
	}{
		{"nullifier 63 chars", &Request{Proof: "00", SurveyID: testSurvey, Nullifier: "0x" + strings.Repeat("a", 63), MerkleProof: env.path}, types.ErrMalformedHex},
		{"nullifier not hex", &Request{Proof: "00", SurveyID: testSurvey, Nullifier: "0x" + strings.Repeat("g", 64), MerkleProof: env.path}, types.ErrMalformedHex},
		{"proof not hex", &Request{Proof: "0xnothex", SurveyID: testSurvey, Nullifier: testNullifier, MerkleProof: env.path}, types.ErrMalformedHex},
		{"proof odd length", &Request{Proof: "0xabc", SurveyID: testSurvey, Nullifier: testNullifier, MerkleProof: env.path}, types.ErrMalformedHex},
		{"path node 63 chars", &Request{Proof: "00", SurveyID: testSurvey, Nullifier: testNullifier, MerkleProof: badNode}, types.ErrInvalidMerklePath},
		{"path node out of field", &Request{Proof: "00", SurveyID: testSurvey, Nullifier: testNullifier, MerkleProof: outOfField}, types.ErrInvalidMerklePath},
		{"path too short", &Request{Proof: "00", SurveyID: testSurvey, Nullifier: testNullifier, MerkleProof: shortPath}, types.ErrInvalidMerklePath},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := env.verify(tc.req)
			qt.Assert(t, errors.Is(err, tc.err), qt.IsTrue, qt.Commentf("got %v", err))
			qt.Assert(t, errors.Is(err, types.ErrMalformedInput), qt.IsTrue)
		})
	}
}

func TestNullifierLengthBoundary(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(t)

	// 63 hex chars fail the encoding check
	short := &Request{Proof: "00", SurveyID: testSurvey, Nullifier: "0x" + strings.Repeat("a", 63), MerkleProof: []string{"0"}}
	c.Assert(errors.Is(short.Validate(), types.ErrMalformedHex), qt.IsTrue)

	// 64 hex chars pass it, even above the field modulus
	full := &Request{Proof: "00", SurveyID: testSurvey, Nullifier: "0x" + strings.Repeat("a", 64), MerkleProof: []string{"0"}}
	c.Assert(full.Validate(), qt.IsNil)

	// but an out of field nullifier never reaches the engine
	full.MerkleProof = env.path
	err := env.verify(full)
	c.Assert(errors.Is(err, types.ErrNonCanonicalField), qt.IsTrue, qt.Commentf("got %v", err))

	// a canonical 64 chars nullifier does
	full.Nullifier = testNullifier
	env.engine.EXPECT().Verify([]byte{0}, gomock.Any()).Return(true, nil)
	c.Assert(env.verify(full), qt.IsNil)
}

func TestUnknownSurvey(t *testing.T) {
	env := newTestEnv(t)
	err := env.verify(&Request{Proof: "00", SurveyID: 7, Nullifier: testNullifier, MerkleProof: env.path})
	qt.Assert(t, errors.Is(err, types.ErrTreeNotFound), qt.IsTrue)
}

func TestNewEngine(t *testing.T) {
	c := qt.New(t)
	_, err := NewEngine("plonk", nil)
	c.Assert(err, qt.ErrorMatches, `unknown proof engine "plonk"`)
	_, err = NewEngine(EngineGroth16, []byte{1, 2, 3})
	c.Assert(err, qt.IsNotNil)
	_, err = NewEngine(EngineCircom, []byte("{"))
	c.Assert(err, qt.IsNotNil)
}

func TestParseInputs(t *testing.T) {
	c := qt.New(t)
	values, err := parseInputs([]string{"0x0", "0x2a"})
	c.Assert(err, qt.IsNil)
	c.Assert(values[1].Int64(), qt.Equals, int64(42))
	_, err = parseInputs([]string{field.ToHexFixed32(big.NewInt(1)), "0x" + strings.Repeat("f", 64)})
	c.Assert(err, qt.ErrorMatches, "public input 1 out of the field")
}

func TestCircomEngine(t *testing.T) {
	c := qt.New(t)
	vk, err := os.ReadFile("testdata/circom_vkey.json")
	c.Assert(err, qt.IsNil)
	proof, err := os.ReadFile("testdata/circom_proof.json")
	c.Assert(err, qt.IsNil)

	engine, err := NewEngine(EngineCircom, vk)
	c.Assert(err, qt.IsNil)
	signal, ok := new(big.Int).SetString("1444299578508226995156725418719106598171080040027552852651559453274895111063", 10)
	c.Assert(ok, qt.IsTrue)

	valid, err := engine.Verify(proof, []string{field.ToHexFixed32(signal)})
	c.Assert(err, qt.IsNil)
	c.Assert(valid, qt.IsTrue)

	valid, err = engine.Verify(proof, []string{field.ToHexFixed32(new(big.Int).Add(signal, big.NewInt(1)))})
	c.Assert(err, qt.IsNil)
	c.Assert(valid, qt.IsFalse)
}
