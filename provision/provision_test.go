package provision

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/extractor"
	"github.com/BaSui01/visemeflow/testutil"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func serveZip(t *testing.T, payload []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestEnsure_DownloadsAndExtracts(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"rhubarb_linux/rhubarb":               "#!/bin/sh\nexit 0\n",
		"rhubarb_linux/res/sphinx/README.txt": "acoustic model",
	})
	srv, hits := serveZip(t, payload)

	dir := t.TempDir()
	p := New(Config{Enabled: true, URL: srv.URL, Dir: dir}, zap.NewNop())
	binary := filepath.Join(dir, "rhubarb_linux", "rhubarb")

	got, err := p.Ensure(testutil.TestContext(t), binary)
	require.NoError(t, err)
	assert.Equal(t, binary, got)
	assert.NoError(t, extractor.CheckBinary(binary))
	assert.FileExists(t, filepath.Join(dir, "rhubarb_linux", "res", "sphinx", "README.txt"))
	assert.Equal(t, int32(1), hits.Load())

	// 下载包在解压后删除
	matches, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	// 二次调用不再下载
	_, err = p.Ensure(testutil.TestContext(t), binary)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestEnsure_ExistingBinarySkipsDownload(t *testing.T) {
	fake := testutil.NewFakeRhubarb(t, testutil.RhubarbOK)
	p := New(Config{Enabled: false}, nil)

	got, err := p.Ensure(testutil.TestContext(t), fake.Path)
	require.NoError(t, err)
	assert.Equal(t, fake.Path, got)
}

func TestEnsure_DisabledAndMissing(t *testing.T) {
	p := New(Config{Enabled: false, Dir: t.TempDir()}, zap.NewNop())

	_, err := p.Ensure(testutil.TestContext(t), filepath.Join(t.TempDir(), "rhubarb"))
	assert.ErrorContains(t, err, "provisioning disabled")
}

func TestEnsure_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	p := New(Config{Enabled: true, URL: srv.URL, Dir: dir}, zap.NewNop())

	_, err := p.Ensure(testutil.TestContext(t), filepath.Join(dir, "rhubarb_linux", "rhubarb"))
	assert.ErrorContains(t, err, "unexpected status")
}

func TestEnsure_ArchiveTooLarge(t *testing.T) {
	payload := buildZip(t, map[string]string{"rhubarb_linux/rhubarb": "#!/bin/sh\n"})
	srv, _ := serveZip(t, payload)

	dir := t.TempDir()
	p := New(Config{Enabled: true, URL: srv.URL, Dir: dir, MaxBytes: 16}, zap.NewNop())

	_, err := p.Ensure(testutil.TestContext(t), filepath.Join(dir, "rhubarb_linux", "rhubarb"))
	assert.ErrorContains(t, err, "exceeds")

	matches, _ := filepath.Glob(filepath.Join(dir, "*.zip"))
	assert.Empty(t, matches)
}

func TestEnsure_BinaryMissingFromArchive(t *testing.T) {
	payload := buildZip(t, map[string]string{"other/file": "x"})
	srv, _ := serveZip(t, payload)

	dir := t.TempDir()
	p := New(Config{Enabled: true, URL: srv.URL, Dir: dir}, zap.NewNop())

	_, err := p.Ensure(testutil.TestContext(t), filepath.Join(dir, "rhubarb_linux", "rhubarb"))
	assert.Error(t, err)
}

func TestUnzip_RejectsPathTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.zip")
	require.NoError(t, os.WriteFile(archive, buildZip(t, map[string]string{"../escape.txt": "x"}), 0o600))

	dest := t.TempDir()
	_, err := Unzip(archive, dest)
	assert.ErrorIs(t, err, ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape.txt"))
}

func TestUnzip_NotAZip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(archive, []byte("not a zip"), 0o600))

	_, err := Unzip(archive, t.TempDir())
	assert.ErrorContains(t, err, "open archive")
}
