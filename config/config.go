// Package config holds the settings of a zksurvey node.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/vocdoni/zksurvey/accumulator"
	"github.com/vocdoni/zksurvey/circuits"
	"github.com/vocdoni/zksurvey/crypto/hash/poseidon"
	"github.com/vocdoni/zksurvey/log"
	"github.com/vocdoni/zksurvey/types"
	"github.com/vocdoni/zksurvey/verifier"
)

const (
	DBTypePebble = "pebble"
	DBTypeSQLite = "sqlite"
)

// Config is the configuration of a SurveyService.
type Config struct {
	// DataDir is where the pebble database lives.
	DataDir string
	// DBType selects the storage backend, pebble or sqlite.
	DBType string
	// SQLiteDSN is the data source of the sqlite backend. Defaults to a
	// file inside DataDir.
	SQLiteDSN string

	// TreeDepth and TreeArity are used for the trees created implicitly
	// with the first commitment of a survey.
	TreeDepth int
	TreeArity int

	LogLevel  string
	LogOutput string

	// Engine is the proof system of the verifying key, groth16 or circom.
	Engine string
	// VerifyingKeyPath, VerifyingKeyURL and VerifyingKeyHash locate the
	// verifying key artifact. The hash is the hex encoded sha256 of the key.
	VerifyingKeyPath string
	VerifyingKeyURL  string
	VerifyingKeyHash string
	// CircuitVersion is the hash version the circuit was built with, it
	// must match the hasher of the node.
	CircuitVersion string
	// ArtifactsDir overrides the artifact cache directory.
	ArtifactsDir string
}

// Default returns the default configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		DBType:         DBTypePebble,
		TreeDepth:      types.DefaultTreeDepth,
		TreeArity:      types.DefaultTreeArity,
		LogLevel:       log.LogLevelInfo,
		LogOutput:      "stdout",
		Engine:         verifier.EngineGroth16,
		CircuitVersion: poseidon.Version,
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir not set")
	}
	switch c.DBType {
	case DBTypePebble, DBTypeSQLite:
	default:
		return fmt.Errorf("unknown database type %q", c.DBType)
	}
	if _, err := accumulator.Capacity(c.TreeDepth, c.TreeArity); err != nil {
		return err
	}
	switch c.Engine {
	case verifier.EngineGroth16, verifier.EngineCircom:
	default:
		return fmt.Errorf("unknown proof engine %q", c.Engine)
	}
	if c.CircuitVersion != poseidon.Version {
		return fmt.Errorf("circuit built for %q, node hashes with %q", c.CircuitVersion, poseidon.Version)
	}
	return nil
}

// SQLiteSource returns the configured DSN or the default database file.
func (c *Config) SQLiteSource() string {
	if c.SQLiteDSN != "" {
		return c.SQLiteDSN
	}
	return filepath.Join(c.DataDir, "zksurvey.sqlite")
}

// PebbleDir is the directory of the pebble database.
func (c *Config) PebbleDir() string {
	return filepath.Join(c.DataDir, "db")
}

// ApplyArtifactsDir points the artifact cache to ArtifactsDir, if set.
func (c *Config) ApplyArtifactsDir() {
	if c.ArtifactsDir != "" {
		circuits.BaseDir = c.ArtifactsDir
	}
}
