package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/zksurvey/types"
)

func TestValidate(t *testing.T) {
	c := qt.New(t)
	c.Assert(Default(t.TempDir()).Validate(), qt.IsNil)

	for name, mutate := range map[string]func(*Config){
		"no data dir":     func(cfg *Config) { cfg.DataDir = "" },
		"unknown db":      func(cfg *Config) { cfg.DBType = "mysql" },
		"arity one":       func(cfg *Config) { cfg.TreeArity = 1 },
		"arity too large": func(cfg *Config) { cfg.TreeArity = 17 },
		"depth zero":      func(cfg *Config) { cfg.TreeDepth = 0 },
		"too many leaves": func(cfg *Config) { cfg.TreeDepth = 33 },
		"unknown engine":  func(cfg *Config) { cfg.Engine = "plonk" },
		"circuit version": func(cfg *Config) { cfg.CircuitVersion = "poseidon2-bn254" },
	} {
		c.Run(name, func(c *qt.C) {
			cfg := Default(t.TempDir())
			mutate(cfg)
			c.Assert(cfg.Validate(), qt.IsNotNil)
		})
	}

	cfg := Default(t.TempDir())
	cfg.TreeDepth = 0
	c.Assert(cfg.Validate(), qt.ErrorIs, types.ErrInvalidTreeParams)
}

func TestPaths(t *testing.T) {
	c := qt.New(t)
	cfg := Default("/data")
	c.Assert(cfg.SQLiteSource(), qt.Equals, filepath.Join("/data", "zksurvey.sqlite"))
	c.Assert(cfg.PebbleDir(), qt.Equals, filepath.Join("/data", "db"))
	cfg.SQLiteDSN = "file::memory:"
	c.Assert(cfg.SQLiteSource(), qt.Equals, "file::memory:")
}

func TestVerifyingKeyArtifact(t *testing.T) {
	c := qt.New(t)
	cfg := Default(t.TempDir())
	_, err := cfg.VerifyingKeyArtifact()
	c.Assert(err, qt.ErrorMatches, "verifying key not configured")

	cfg.VerifyingKeyHash = "0x" + strings.Repeat("ab", 32)
	cfg.VerifyingKeyURL = "https://example.org/membership.vk"
	artifact, err := cfg.VerifyingKeyArtifact()
	c.Assert(err, qt.IsNil)
	c.Assert(artifact.Hash, qt.HasLen, 32)
	c.Assert(artifact.RemoteURL, qt.Equals, cfg.VerifyingKeyURL)

	cfg.VerifyingKeyHash = "abcd"
	_, err = cfg.VerifyingKeyArtifact()
	c.Assert(err, qt.IsNotNil)

	path := filepath.Join(t.TempDir(), "vk")
	c.Assert(os.WriteFile(path, []byte("vk"), 0o600), qt.IsNil)
	cfg = Default(t.TempDir())
	cfg.VerifyingKeyPath = path
	artifact, err = cfg.VerifyingKeyArtifact()
	c.Assert(err, qt.IsNil)
	c.Assert(artifact.LocalPath, qt.Equals, path)
	c.Assert(artifact.Hash, qt.IsNil)
}
