// Command zksurvey manages anonymous survey trees, commitments and response
// proofs from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"github.com/vocdoni/zksurvey/config"
	"github.com/vocdoni/zksurvey/log"
	"github.com/vocdoni/zksurvey/service"
	"github.com/vocdoni/zksurvey/types"
	"github.com/vocdoni/zksurvey/verifier"
)

var (
	dataDirFlag = cli.StringFlag{
		Name:    "data-dir",
		Usage:   "directory where the survey database is stored",
		EnvVars: []string{"ZKSURVEY_DATA_DIR"},
		Value:   defaultDataDir(),
	}
	dbTypeFlag = cli.StringFlag{
		Name:    "db",
		Usage:   "storage backend, pebble or sqlite",
		EnvVars: []string{"ZKSURVEY_DB"},
		Value:   config.DBTypePebble,
	}
	sqliteDSNFlag = cli.StringFlag{
		Name:    "sqlite-dsn",
		Usage:   "sqlite data source, defaults to a file in the data dir",
		EnvVars: []string{"ZKSURVEY_SQLITE_DSN"},
	}
	treeDepthFlag = cli.IntFlag{
		Name:    "tree-depth",
		Usage:   "depth of the survey trees",
		EnvVars: []string{"ZKSURVEY_TREE_DEPTH"},
		Value:   types.DefaultTreeDepth,
	}
	treeArityFlag = cli.IntFlag{
		Name:    "tree-arity",
		Usage:   "arity of the survey trees",
		EnvVars: []string{"ZKSURVEY_TREE_ARITY"},
		Value:   types.DefaultTreeArity,
	}
	logLevelFlag = cli.StringFlag{
		Name:    "log-level",
		Usage:   "debug, info, warn or error",
		EnvVars: []string{"ZKSURVEY_LOG_LEVEL"},
		Value:   log.LogLevelError,
	}
	logOutputFlag = cli.StringFlag{
		Name:    "log-output",
		Usage:   "stdout, stderr or a file path",
		EnvVars: []string{"ZKSURVEY_LOG_OUTPUT"},
		Value:   "stderr",
	}
	engineFlag = cli.StringFlag{
		Name:    "engine",
		Usage:   "proof system of the verifying key, groth16 or circom",
		EnvVars: []string{"ZKSURVEY_ENGINE"},
		Value:   verifier.EngineGroth16,
	}
	vkPathFlag = cli.StringFlag{
		Name:    "vk",
		Usage:   "verifying key file",
		EnvVars: []string{"ZKSURVEY_VK"},
	}
	vkURLFlag = cli.StringFlag{
		Name:    "vk-url",
		Usage:   "verifying key download url",
		EnvVars: []string{"ZKSURVEY_VK_URL"},
	}
	vkHashFlag = cli.StringFlag{
		Name:    "vk-hash",
		Usage:   "sha256 of the verifying key",
		EnvVars: []string{"ZKSURVEY_VK_HASH"},
	}
	artifactsDirFlag = cli.StringFlag{
		Name:    "artifacts-dir",
		Usage:   "circuit artifacts cache",
		EnvVars: []string{"ZKSURVEY_ARTIFACTS_DIR"},
	}
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zksurvey"
	}
	return filepath.Join(home, ".zksurvey")
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "zksurvey",
		Usage: "anonymous survey participation toolbox",
		Flags: []cli.Flag{
			&dataDirFlag,
			&dbTypeFlag,
			&sqliteDSNFlag,
			&treeDepthFlag,
			&treeArityFlag,
			&logLevelFlag,
			&logOutputFlag,
			&engineFlag,
			&vkPathFlag,
			&vkURLFlag,
			&vkHashFlag,
			&artifactsDirFlag,
		},
		Before: func(ctx *cli.Context) error {
			log.Init(ctx.String(logLevelFlag.Name), ctx.String(logOutputFlag.Name), nil)
			return nil
		},
		Commands: []*cli.Command{
			&CompileCmd,
			&CommitmentCmd,
			&InvitationCmd,
			&TreeCmd,
			&ProveCmd,
			&VerifyCmd,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFromContext(ctx *cli.Context) *config.Config {
	cfg := config.Default(ctx.String(dataDirFlag.Name))
	cfg.DBType = ctx.String(dbTypeFlag.Name)
	cfg.SQLiteDSN = ctx.String(sqliteDSNFlag.Name)
	cfg.TreeDepth = ctx.Int(treeDepthFlag.Name)
	cfg.TreeArity = ctx.Int(treeArityFlag.Name)
	cfg.LogLevel = ctx.String(logLevelFlag.Name)
	cfg.LogOutput = ctx.String(logOutputFlag.Name)
	cfg.Engine = ctx.String(engineFlag.Name)
	cfg.VerifyingKeyPath = ctx.String(vkPathFlag.Name)
	cfg.VerifyingKeyURL = ctx.String(vkURLFlag.Name)
	cfg.VerifyingKeyHash = ctx.String(vkHashFlag.Name)
	cfg.ArtifactsDir = ctx.String(artifactsDirFlag.Name)
	return cfg
}

// noEngine stands in for the proof engine of commands that never verify.
type noEngine struct{}

func (noEngine) Verify([]byte, []string) (bool, error) {
	return false, fmt.Errorf("verifying key not configured")
}

// withService runs fn with a started SurveyService. The verifying key is
// only loaded if needsEngine is set.
func withService(ctx *cli.Context, needsEngine bool, fn func(context.Context, *service.SurveyService) error) error {
	var engine verifier.Engine
	if !needsEngine {
		engine = noEngine{}
	}
	srv := service.New(configFromContext(ctx), engine)
	if err := srv.Start(ctx.Context); err != nil {
		return err
	}
	defer srv.Stop()
	return fn(ctx.Context, srv)
}

func printJSON(ctx *cli.Context, v any) error {
	enc := json.NewEncoder(ctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
