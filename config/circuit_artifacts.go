package config

import (
	"encoding/hex"
	"fmt"

	"github.com/vocdoni/zksurvey/circuits"
	"github.com/vocdoni/zksurvey/util"
)

// VerifyingKeyArtifact returns the artifact of the configured verifying key.
// A local path takes precedence over the cache and the remote URL.
func (c *Config) VerifyingKeyArtifact() (*circuits.Artifact, error) {
	if c.VerifyingKeyPath == "" && c.VerifyingKeyHash == "" {
		return nil, fmt.Errorf("verifying key not configured")
	}
	artifact := &circuits.Artifact{
		LocalPath: c.VerifyingKeyPath,
		RemoteURL: c.VerifyingKeyURL,
	}
	if c.VerifyingKeyHash != "" {
		hash, err := hex.DecodeString(util.TrimHex(c.VerifyingKeyHash))
		if err != nil {
			return nil, fmt.Errorf("invalid verifying key hash: %w", err)
		}
		if len(hash) != 32 {
			return nil, fmt.Errorf("verifying key hash must be a sha256 digest, got %d bytes", len(hash))
		}
		artifact.Hash = hash
	}
	return artifact, nil
}
