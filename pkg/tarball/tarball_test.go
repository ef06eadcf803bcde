package tarball

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "Dockerfile"), []byte("FROM alpine\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "cmd", "api"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "cmd", "api", "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("ref: main\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, src))

	dest := t.TempDir()
	require.NoError(t, Unpack(&buf, dest))

	data, err := os.ReadFile(filepath.Join(dest, "cmd", "api", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
	assert.FileExists(t, filepath.Join(dest, "Dockerfile"))
	assert.NoDirExists(t, filepath.Join(dest, ".git"))
}

func TestUnpackPlainTar(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "a.txt", Mode: 0o644, Size: 2, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	dest := t.TempDir()
	require.NoError(t, Unpack(&buf, dest))
	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestUnpackRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../escape", "/etc/passwd", "a/../../escape"} {
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, tw.Close())

		assert.Error(t, Unpack(&buf, t.TempDir()), name)
	}
}
