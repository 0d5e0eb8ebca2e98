package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/service"
	"github.com/vocdoni/zksurvey/storage"
)

func run(c *qt.C, dataDir string, args ...string) []byte {
	app := newApp()
	out := &bytes.Buffer{}
	app.Writer = out
	c.Assert(app.Run(append([]string{"zksurvey", "--data-dir", dataDir}, args...)), qt.IsNil)
	return out.Bytes()
}

func TestTreeCommands(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	leaf := field.ToHexFixed32(big.NewInt(1234))

	run(c, dir, "tree", "create", "--survey", "42", "--depth", "3")
	var added map[string]uint64
	c.Assert(json.Unmarshal(run(c, dir, "tree", "add", "--survey", "42", "--leaf", leaf), &added), qt.IsNil)
	c.Assert(added["index"], qt.Equals, uint64(0))

	var leaves []string
	c.Assert(json.Unmarshal(run(c, dir, "tree", "leaves", "--survey", "42"), &leaves), qt.IsNil)
	c.Assert(leaves, qt.DeepEquals, []string{leaf})

	var root map[string]string
	c.Assert(json.Unmarshal(run(c, dir, "tree", "root", "--survey", "42"), &root), qt.IsNil)
	var proof service.ProofData
	c.Assert(json.Unmarshal(run(c, dir, "tree", "proof", "--survey", "42", "--leaf", leaf), &proof), qt.IsNil)
	c.Assert(proof.Siblings, qt.HasLen, 3)
	c.Assert(proof.Root, qt.Equals, root["root"])
}

func TestCommitmentCommand(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	var inv storage.Invitation
	c.Assert(json.Unmarshal(run(c, dir, "invitation", "--survey", "7", "--invitation", "3"), &inv), qt.IsNil)
	c.Assert(inv.SurveyID, qt.Equals, uint64(7))

	var out map[string]any
	c.Assert(json.Unmarshal(run(c, dir, "commitment", "--secret", "s3cret", "--invitation", "3",
		"--survey", "7", "--uuid", inv.UUID.String()), &out), qt.IsNil)
	c.Assert(out["commitment"], qt.Not(qt.Equals), out["nullifier"])
	c.Assert(out["index"], qt.Equals, float64(0))

	// the tree was created on the first commitment
	var leaves []string
	c.Assert(json.Unmarshal(run(c, dir, "tree", "leaves", "--survey", "7"), &leaves), qt.IsNil)
	c.Assert(leaves, qt.DeepEquals, []string{out["commitment"].(string)})
}

func TestVerifyWithoutKey(t *testing.T) {
	c := qt.New(t)
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"zksurvey", "--data-dir", t.TempDir(), "verify", "--request", "/nonexistent.json"})
	c.Assert(err, qt.IsNotNil)
}
