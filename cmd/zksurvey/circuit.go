package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"github.com/vocdoni/zksurvey/accumulator"
	"github.com/vocdoni/zksurvey/circuits/membership"
	"github.com/vocdoni/zksurvey/commitment"
	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/crypto/hash/poseidon"
	"github.com/vocdoni/zksurvey/service"
	"github.com/vocdoni/zksurvey/verifier"
)

const (
	ccsFile = "membership.ccs"
	pkFile  = "membership.pk"
	vkFile  = "membership.vk"
)

var (
	circuitDirFlag = cli.StringFlag{
		Name:     "circuit-dir",
		Usage:    "directory of the membership circuit artifacts",
		Required: true,
	}
	secretFlag = cli.StringFlag{
		Name:     "secret",
		Usage:    "participant secret",
		Required: true,
	}
	uuidFlag = cli.StringFlag{
		Name:  "uuid",
		Usage: "invitation uuid, registers the commitment if set",
	}
	requestFlag = cli.StringFlag{
		Name:     "request",
		Usage:    "response request JSON file, - for stdin",
		Required: true,
	}
	responseIDFlag = cli.StringFlag{
		Name:  "response-id",
		Usage: "submit the response with this id, consuming its nullifier",
	}
)

var CompileCmd = cli.Command{
	Name:  "compile",
	Usage: "compile the membership circuit and run a development groth16 setup",
	Flags: []cli.Flag{&circuitDirFlag, &depthFlag},
	Action: func(ctx *cli.Context) error {
		depth := ctx.Int(depthFlag.Name)
		if depth == 0 {
			depth = ctx.Int(treeDepthFlag.Name)
		}
		ccs, pk, vk, err := membership.CompileAndSetup(depth)
		if err != nil {
			return err
		}
		dir := ctx.String(circuitDirFlag.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for name, artifact := range map[string]io.WriterTo{ccsFile: ccs, pkFile: pk, vkFile: vk} {
			if err := writeArtifact(filepath.Join(dir, name), artifact); err != nil {
				return err
			}
		}
		content, err := os.ReadFile(filepath.Join(dir, vkFile))
		if err != nil {
			return err
		}
		sum := sha256.Sum256(content)
		return printJSON(ctx, map[string]any{
			"depth":  depth,
			"vk":     filepath.Join(dir, vkFile),
			"vkHash": hex.EncodeToString(sum[:]),
			"hasher": poseidon.Version,
		})
	},
}

func writeArtifact(path string, artifact io.WriterTo) error {
	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := artifact.WriteTo(fd); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

var CommitmentCmd = cli.Command{
	Name:  "commitment",
	Usage: "compute the commitment and nullifier of a participant",
	Flags: []cli.Flag{&secretFlag, &invitationFlag, &cli.Uint64Flag{Name: "survey", Usage: "survey id of the nullifier"}, &uuidFlag},
	Action: func(ctx *cli.Context) error {
		h, err := poseidon.New()
		if err != nil {
			return err
		}
		secret := []byte(ctx.String(secretFlag.Name))
		invitation := ctx.Uint64(invitationFlag.Name)
		cm, err := commitment.MakeCommitment(h, secret, invitation)
		if err != nil {
			return err
		}
		out := map[string]any{"commitment": field.ToHexFixed32(cm)}
		if ctx.IsSet("survey") {
			nullifier, err := commitment.MakeNullifier(h, secret, invitation, ctx.Uint64("survey"))
			if err != nil {
				return err
			}
			out["nullifier"] = field.ToHexFixed32(nullifier)
		}
		if ctx.IsSet(uuidFlag.Name) {
			id, err := uuid.Parse(ctx.String(uuidFlag.Name))
			if err != nil {
				return fmt.Errorf("invalid invitation uuid: %w", err)
			}
			if err := withService(ctx, false, func(c context.Context, srv *service.SurveyService) error {
				res, err := srv.SaveCommitment(c, id, field.ToHexFixed32(cm))
				if err != nil {
					return err
				}
				out["index"] = res.Index
				out["message"] = res.Message
				return nil
			}); err != nil {
				return err
			}
		}
		return printJSON(ctx, out)
	},
}

var ProveCmd = cli.Command{
	Name:  "prove",
	Usage: "prove a survey response with the reference membership circuit",
	Flags: []cli.Flag{&circuitDirFlag, &secretFlag, &invitationFlag, &surveyFlag},
	Action: func(ctx *cli.Context) error {
		dir := ctx.String(circuitDirFlag.Name)
		ccs := groth16.NewCS(ecc.BN254)
		if err := readArtifact(filepath.Join(dir, ccsFile), ccs); err != nil {
			return err
		}
		pk := groth16.NewProvingKey(ecc.BN254)
		if err := readArtifact(filepath.Join(dir, pkFile), pk); err != nil {
			return err
		}
		surveyID := ctx.Uint64(surveyFlag.Name)
		inputs := &membership.Inputs{
			Secret:       []byte(ctx.String(secretFlag.Name)),
			InvitationID: ctx.Uint64(invitationFlag.Name),
			SurveyID:     surveyID,
		}
		var siblings []string
		err := withService(ctx, false, func(c context.Context, srv *service.SurveyService) error {
			cm, err := commitment.MakeCommitment(srv.Hasher(), inputs.Secret, inputs.InvitationID)
			if err != nil {
				return err
			}
			data, err := srv.GetProofData(c, surveyID, field.ToHexFixed32(cm))
			if err != nil {
				return err
			}
			siblings = data.Siblings
			proof := &accumulator.Proof{Index: data.Index, Siblings: make([]*big.Int, len(data.Siblings))}
			for i, s := range data.Siblings {
				if proof.Siblings[i], err = field.ParseCanonicalHex(s); err != nil {
					return err
				}
			}
			if inputs.Root, err = field.ParseCanonicalHex(data.Root); err != nil {
				return err
			}
			inputs.Proof = proof
			return nil
		})
		if err != nil {
			return err
		}
		h, err := poseidon.New()
		if err != nil {
			return err
		}
		assignment, nullifier, err := inputs.Assignment(h)
		if err != nil {
			return err
		}
		proof, err := membership.Prove(ccs, pk, assignment)
		if err != nil {
			return err
		}
		return printJSON(ctx, &verifier.Request{
			Proof:       hexutil.Encode(proof),
			SurveyID:    surveyID,
			Nullifier:   field.ToHexFixed32(nullifier),
			MerkleProof: siblings,
		})
	},
}

func readArtifact(path string, artifact io.ReaderFrom) error {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	if _, err := artifact.ReadFrom(bytes.NewReader(content)); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

var VerifyCmd = cli.Command{
	Name:  "verify",
	Usage: "verify a response proof against the current survey root",
	Flags: []cli.Flag{&requestFlag, &responseIDFlag},
	Action: func(ctx *cli.Context) error {
		var r io.Reader = os.Stdin
		if path := ctx.String(requestFlag.Name); path != "-" {
			fd, err := os.Open(filepath.Clean(path))
			if err != nil {
				return err
			}
			defer fd.Close()
			r = fd
		}
		req := &verifier.Request{}
		if err := json.NewDecoder(r).Decode(req); err != nil {
			return fmt.Errorf("invalid request: %w", err)
		}
		return withService(ctx, true, func(c context.Context, srv *service.SurveyService) error {
			if id := ctx.String(responseIDFlag.Name); id != "" {
				if err := srv.SubmitResponse(c, id, req); err != nil {
					return err
				}
				return printJSON(ctx, map[string]any{"valid": true, "response": id})
			}
			if err := srv.Verify(c, req); err != nil {
				return err
			}
			return printJSON(ctx, map[string]any{"valid": true})
		})
	},
}
