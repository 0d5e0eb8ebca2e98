// Package circuits manages the zkSNARK artifacts (circuit definitions,
// proving and verifying keys) of the survey circuits. Artifacts are
// addressed by the sha256 hash of their content and cached under BaseDir.
package circuits

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vocdoni/zksurvey/log"
	"golang.org/x/sync/errgroup"
)

// CheckHashes enables the integrity check of the artifacts when they are
// loaded or downloaded. Set ZKSURVEY_CHECK_HASHES to false or 0 to disable
// it.
var CheckHashes = true

// BaseDir is the artifact cache. Defaults to ZKSURVEY_ARTIFACTS_DIR or
// ~/.cache/zksurvey-artifacts.
var BaseDir string

// ErrArtifactNotFound is returned when an artifact is neither loaded, cached
// nor downloadable.
var ErrArtifactNotFound = errors.New("artifact not found")

func init() {
	if v := os.Getenv("ZKSURVEY_CHECK_HASHES"); v != "" {
		if strings.ToLower(v) == "false" || v == "0" {
			CheckHashes = false
		}
	}
	if dir := os.Getenv("ZKSURVEY_ARTIFACTS_DIR"); dir != "" {
		BaseDir = dir
		return
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		BaseDir = filepath.Join(os.TempDir(), "zksurvey-artifacts")
		return
	}
	BaseDir = filepath.Join(home, ".cache", "zksurvey-artifacts")
}

// Artifact is a single artifact. Content is resolved, in order, from memory,
// from LocalPath, from the cache by Hash, or downloaded from RemoteURL into
// the cache.
type Artifact struct {
	RemoteURL string
	LocalPath string
	Hash      []byte
	Content   []byte
}

// Load resolves the content of the artifact, downloading it if it is not
// cached yet.
func (a *Artifact) Load(ctx context.Context) error {
	if len(a.Content) != 0 {
		return nil
	}
	if a.LocalPath != "" {
		content, err := os.ReadFile(filepath.Clean(a.LocalPath))
		if err != nil {
			return fmt.Errorf("read artifact %s: %w", a.LocalPath, err)
		}
		if err := a.check(content); err != nil {
			return err
		}
		a.Content = content
		return nil
	}
	if len(a.Hash) == 0 {
		return fmt.Errorf("artifact hash not provided")
	}
	content, err := loadCached(a.Hash)
	if err != nil {
		return err
	}
	if content == nil {
		if a.RemoteURL == "" {
			return fmt.Errorf("%w: %x", ErrArtifactNotFound, a.Hash)
		}
		if err := a.Download(ctx); err != nil {
			return err
		}
		if content, err = loadCached(a.Hash); err != nil {
			return err
		}
		if content == nil {
			return fmt.Errorf("%w: %x", ErrArtifactNotFound, a.Hash)
		}
	}
	a.Content = content
	return nil
}

// Download fetches the artifact from RemoteURL into the cache. An
// interrupted download is resumed from the partial file.
func (a *Artifact) Download(ctx context.Context) error {
	if a.RemoteURL == "" {
		return fmt.Errorf("remote url not provided")
	}
	if len(a.Hash) == 0 {
		return fmt.Errorf("artifact hash not provided")
	}
	if err := os.MkdirAll(BaseDir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}
	return downloadAndStore(ctx, a.Hash, a.RemoteURL)
}

func (a *Artifact) check(content []byte) error {
	if !CheckHashes || len(a.Hash) == 0 {
		return nil
	}
	if sum := sha256.Sum256(content); !bytes.Equal(sum[:], a.Hash) {
		return fmt.Errorf("hash mismatch: expected %x, got %x", a.Hash, sum)
	}
	return nil
}

// CircuitArtifacts groups the artifacts of a circuit. Any of them may be nil,
// a verifier only needs the verifying key.
type CircuitArtifacts struct {
	circuitDefinition *Artifact
	provingKey        *Artifact
	verifyingKey      *Artifact
}

// NewCircuitArtifacts returns the artifacts of a circuit.
func NewCircuitArtifacts(circuit, provingKey, verifyingKey *Artifact) *CircuitArtifacts {
	return &CircuitArtifacts{
		circuitDefinition: circuit,
		provingKey:        provingKey,
		verifyingKey:      verifyingKey,
	}
}

func (ca *CircuitArtifacts) all() map[string]*Artifact {
	named := map[string]*Artifact{}
	if ca.circuitDefinition != nil {
		named["circuit definition"] = ca.circuitDefinition
	}
	if ca.provingKey != nil {
		named["proving key"] = ca.provingKey
	}
	if ca.verifyingKey != nil {
		named["verifying key"] = ca.verifyingKey
	}
	return named
}

// LoadAll loads every artifact, downloading the missing ones.
func (ca *CircuitArtifacts) LoadAll(ctx context.Context) error {
	for name, a := range ca.all() {
		if err := a.Load(ctx); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// DownloadAll downloads every remote artifact concurrently.
func (ca *CircuitArtifacts) DownloadAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, a := range ca.all() {
		if a.RemoteURL == "" {
			continue
		}
		g.Go(func() error {
			if err := a.Download(ctx); err != nil {
				return fmt.Errorf("download %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CircuitDefinition returns the loaded circuit definition, if any.
func (ca *CircuitArtifacts) CircuitDefinition() []byte {
	if ca.circuitDefinition == nil {
		return nil
	}
	return ca.circuitDefinition.Content
}

func (ca *CircuitArtifacts) ProvingKey() []byte {
	if ca.provingKey == nil {
		return nil
	}
	return ca.provingKey.Content
}

func (ca *CircuitArtifacts) VerifyingKey() []byte {
	if ca.verifyingKey == nil {
		return nil
	}
	return ca.verifyingKey.Content
}

// loadCached returns nil content and no error if the artifact is not cached.
func loadCached(hash []byte) ([]byte, error) {
	path := filepath.Join(BaseDir, hex.EncodeToString(hash))
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cached artifact %s: %w", path, err)
	}
	if CheckHashes {
		if sum := sha256.Sum256(content); !bytes.Equal(sum[:], hash) {
			return nil, fmt.Errorf("hash mismatch for %s: got %x", path, sum)
		}
	}
	return content, nil
}

type progressReader struct {
	reader io.Reader
	total  atomic.Int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.total.Add(int64(n))
	return n, err
}

func downloadAndStore(ctx context.Context, expectedHash []byte, fileURL string) error {
	if _, err := url.Parse(fileURL); err != nil {
		return fmt.Errorf("invalid artifact url: %w", err)
	}
	path := filepath.Join(BaseDir, hex.EncodeToString(expectedHash))
	partialPath := path + ".partial"

	var offset int64
	if info, err := os.Stat(partialPath); err == nil {
		offset = info.Size()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("create artifact request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", fileURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("download %s: http status %d", fileURL, res.StatusCode)
	}

	hasher := sha256.New()
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 && res.StatusCode == http.StatusPartialContent {
		flags = os.O_APPEND | os.O_WRONLY
		if partial, err := os.ReadFile(partialPath); err == nil {
			hasher.Write(partial)
		}
	}
	fd, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open artifact file: %w", err)
	}
	defer fd.Close()

	pr := &progressReader{reader: res.Body}
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.MultiWriter(fd, hasher), pr)
		done <- err
	}()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
wait:
	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("write artifact file: %w", err)
			}
			break wait
		case <-ticker.C:
			log.Debugw("downloading artifact", "url", fileURL,
				"downloaded", fmt.Sprintf("%.2fMiB", float64(pr.total.Load())/(1024*1024)))
		}
	}
	if CheckHashes {
		if sum := hasher.Sum(nil); !bytes.Equal(sum, expectedHash) {
			_ = os.Remove(partialPath)
			return fmt.Errorf("hash mismatch: expected %x, got %x", expectedHash, sum)
		}
	}
	if err := os.Rename(partialPath, path); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	log.Infow("artifact downloaded", "url", fileURL, "hash", hex.EncodeToString(expectedHash))
	return nil
}
