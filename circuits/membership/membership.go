// Package membership contains the reference survey membership circuit. It
// proves, without revealing the secret nor the invitation, that the
// commitment Poseidon(secret, invitationID) is a leaf of the binary survey
// tree with the public root, and that the public nullifier is
// Poseidon(secret, invitationID, surveyID).
//
// The public inputs are declared in the order the verifier assembles them:
// SurveyID, Nullifier, Root and the path siblings from the leaf level up.
package membership

import (
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/gnark-crypto-primitives/poseidon"
)

// Circuit is the membership circuit for a tree of len(Siblings) levels and
// arity 2.
type Circuit struct {
	SurveyID  frontend.Variable   `gnark:",public"`
	Nullifier frontend.Variable   `gnark:",public"`
	Root      frontend.Variable   `gnark:",public"`
	Siblings  []frontend.Variable `gnark:",public"`
	// Secret is the participant secret already reduced into the field.
	Secret       frontend.Variable
	InvitationID frontend.Variable
	// PathIndices are the bits of the leaf index, least significant first.
	PathIndices []frontend.Variable
}

// Placeholder returns an empty circuit for a tree of the given depth, ready
// to be compiled.
func Placeholder(depth int) *Circuit {
	return &Circuit{
		Siblings:    make([]frontend.Variable, depth),
		PathIndices: make([]frontend.Variable, depth),
	}
}

func hash(api frontend.API, inputs ...frontend.Variable) frontend.Variable {
	h := poseidon.NewPoseidon(api)
	h.Write(inputs...)
	return h.Sum()
}

func (c *Circuit) Define(api frontend.API) error {
	api.AssertIsEqual(c.Nullifier, hash(api, c.Secret, c.InvitationID, c.SurveyID))

	node := hash(api, c.Secret, c.InvitationID)
	for i, sibling := range c.Siblings {
		api.AssertIsBoolean(c.PathIndices[i])
		left := api.Select(c.PathIndices[i], sibling, node)
		right := api.Select(c.PathIndices[i], node, sibling)
		node = hash(api, left, right)
	}
	api.AssertIsEqual(c.Root, node)
	return nil
}
