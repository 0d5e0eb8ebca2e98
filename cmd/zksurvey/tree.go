package main

import (
	"context"

	"github.com/urfave/cli/v2"
	"github.com/vocdoni/zksurvey/crypto/field"
	"github.com/vocdoni/zksurvey/service"
)

var (
	surveyFlag = cli.Uint64Flag{
		Name:     "survey",
		Usage:    "survey id",
		Required: true,
	}
	leafFlag = cli.StringFlag{
		Name:     "leaf",
		Usage:    "32 bytes hex encoded leaf",
		Required: true,
	}
	depthFlag = cli.IntFlag{
		Name:  "depth",
		Usage: "tree depth, defaults to --tree-depth",
	}
	invitationFlag = cli.Uint64Flag{
		Name:     "invitation",
		Usage:    "numeric invitation id",
		Required: true,
	}
)

var TreeCmd = cli.Command{
	Name:  "tree",
	Usage: "manage the survey merkle trees",
	Subcommands: []*cli.Command{
		{
			Name:  "create",
			Usage: "create the empty tree of a survey",
			Flags: []cli.Flag{&surveyFlag, &depthFlag},
			Action: func(ctx *cli.Context) error {
				return withService(ctx, false, func(c context.Context, srv *service.SurveyService) error {
					return srv.CreateTree(c, ctx.Uint64(surveyFlag.Name), ctx.Int(depthFlag.Name))
				})
			},
		},
		{
			Name:  "add",
			Usage: "append a leaf to a survey tree",
			Flags: []cli.Flag{&surveyFlag, &leafFlag},
			Action: func(ctx *cli.Context) error {
				return withService(ctx, false, func(c context.Context, srv *service.SurveyService) error {
					index, err := srv.AddLeaf(c, ctx.Uint64(surveyFlag.Name), ctx.String(leafFlag.Name))
					if err != nil {
						return err
					}
					return printJSON(ctx, map[string]uint64{"index": index})
				})
			},
		},
		{
			Name:  "root",
			Usage: "print the root of a survey tree",
			Flags: []cli.Flag{&surveyFlag},
			Action: func(ctx *cli.Context) error {
				return withService(ctx, false, func(c context.Context, srv *service.SurveyService) error {
					root, err := srv.GetRoot(c, ctx.Uint64(surveyFlag.Name))
					if err != nil {
						return err
					}
					return printJSON(ctx, map[string]string{"root": field.ToHexFixed32(root)})
				})
			},
		},
		{
			Name:  "leaves",
			Usage: "print the leaves of a survey tree",
			Flags: []cli.Flag{&surveyFlag},
			Action: func(ctx *cli.Context) error {
				return withService(ctx, false, func(c context.Context, srv *service.SurveyService) error {
					leaves, err := srv.GetLeaves(c, ctx.Uint64(surveyFlag.Name))
					if err != nil {
						return err
					}
					return printJSON(ctx, leaves)
				})
			},
		},
		{
			Name:  "proof",
			Usage: "print the membership proof of a leaf",
			Flags: []cli.Flag{&surveyFlag, &leafFlag},
			Action: func(ctx *cli.Context) error {
				return withService(ctx, false, func(c context.Context, srv *service.SurveyService) error {
					data, err := srv.GetProofData(c, ctx.Uint64(surveyFlag.Name), ctx.String(leafFlag.Name))
					if err != nil {
						return err
					}
					return printJSON(ctx, data)
				})
			},
		},
	},
}

var InvitationCmd = cli.Command{
	Name:  "invitation",
	Usage: "register a survey invitation",
	Flags: []cli.Flag{&surveyFlag, &invitationFlag},
	Action: func(ctx *cli.Context) error {
		return withService(ctx, false, func(c context.Context, srv *service.SurveyService) error {
			inv, err := srv.RegisterInvitation(c, ctx.Uint64(surveyFlag.Name), ctx.Uint64(invitationFlag.Name))
			if err != nil {
				return err
			}
			return printJSON(ctx, inv)
		})
	},
}
