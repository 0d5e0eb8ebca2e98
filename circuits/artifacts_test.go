package circuits

import (
	"bytes"
	"context"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

var (
	dummyPath       = "dummy.vk"
	dummyKeyContent = []byte("dummy content")
)

func testDummyKeyServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, dummyPath, time.Now(), bytes.NewReader(dummyKeyContent))
	}))
}

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "zksurvey-artifacts")
	if err != nil {
		panic(err)
	}
	BaseDir = dir
	code := m.Run()
	if err := os.RemoveAll(dir); err != nil {
		panic(err)
	}
	os.Exit(code)
}

func dummyHash() []byte {
	sum := sha256.Sum256(dummyKeyContent)
	return sum[:]
}

func TestLoadKey(t *testing.T) {
	c := qt.New(t)
	server := testDummyKeyServer()
	defer server.Close()
	remoteURL, err := url.JoinPath(server.URL, dummyPath)
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// downloaded on first load
	key := &Artifact{RemoteURL: remoteURL, Hash: dummyHash()}
	c.Assert(key.Load(ctx), qt.IsNil)
	c.Assert(key.Content, qt.DeepEquals, dummyKeyContent)

	// served from the cache
	cached := &Artifact{Hash: dummyHash()}
	c.Assert(cached.Load(ctx), qt.IsNil)
	c.Assert(cached.Content, qt.DeepEquals, dummyKeyContent)

	wrong := &Artifact{RemoteURL: remoteURL, Hash: []byte("wrong hash")}
	c.Assert(wrong.Load(ctx), qt.IsNotNil)

	missing := &Artifact{Hash: []byte("missing")}
	c.Assert(missing.Load(ctx), qt.ErrorIs, ErrArtifactNotFound)
}

func TestLoadLocalPath(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(t.TempDir(), dummyPath)
	c.Assert(os.WriteFile(path, dummyKeyContent, 0o600), qt.IsNil)

	key := &Artifact{LocalPath: path, Hash: dummyHash()}
	c.Assert(key.Load(context.Background()), qt.IsNil)
	c.Assert(key.Content, qt.DeepEquals, dummyKeyContent)

	noHash := &Artifact{LocalPath: path}
	c.Assert(noHash.Load(context.Background()), qt.IsNil)

	tampered := &Artifact{LocalPath: path, Hash: make([]byte, 32)}
	c.Assert(tampered.Load(context.Background()), qt.ErrorMatches, "hash mismatch.*")
}

func TestDownloadAll(t *testing.T) {
	c := qt.New(t)
	server := testDummyKeyServer()
	defer server.Close()
	remoteURL, err := url.JoinPath(server.URL, dummyPath)
	c.Assert(err, qt.IsNil)

	ca := NewCircuitArtifacts(nil, nil, &Artifact{RemoteURL: remoteURL, Hash: dummyHash()})
	c.Assert(ca.DownloadAll(context.Background()), qt.IsNil)
	c.Assert(ca.VerifyingKey(), qt.IsNil)
	c.Assert(ca.LoadAll(context.Background()), qt.IsNil)
	c.Assert(ca.VerifyingKey(), qt.DeepEquals, dummyKeyContent)
	c.Assert(ca.ProvingKey(), qt.IsNil)
}
