package agent

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/flotilla/internal/domain"
)

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func meta(id string, n, total int, name string, chunk []byte) domain.ChunkMetadata {
	return domain.ChunkMetadata{
		TransferID:  id,
		ChunkNumber: n,
		TotalChunks: total,
		ChunkSize:   int64(len(chunk)),
		FileName:    name,
	}
}

func TestReceiveChunk_AssemblesOutOfOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	chunks := [][]byte{[]byte("hello "), []byte("chunked "), []byte("world")}

	order := []int{2, 0, 1}
	var status *domain.UploadStatus
	for i, n := range order {
		m := meta("tx-1", n, len(chunks), "payload.bin", chunks[n])
		m.TotalSize = int64(len("hello chunked world"))

		var err error
		status, err = svc.ReceiveChunk(ctx, m, hashOf(chunks[n]), bytes.NewReader(chunks[n]))
		require.NoError(t, err)
		assert.Equal(t, i+1, status.Received)
		assert.Equal(t, 3, status.Total)
		if i < len(order)-1 {
			assert.False(t, status.Complete)
			assert.Empty(t, status.Path)
		}
	}

	require.True(t, status.Complete)
	assert.Equal(t, filepath.Join(svc.config.UploadDir, "tx-1", "payload.bin"), status.Path)
	data, err := os.ReadFile(status.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello chunked world", string(data))

	parts, _ := filepath.Glob(filepath.Join(svc.config.UploadDir, "tx-1", "*.part"))
	assert.Empty(t, parts)
}

func TestReceiveChunk_ResendAfterAssembly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	chunks := [][]byte{[]byte("first "), []byte("second")}

	for n, chunk := range chunks {
		_, err := svc.ReceiveChunk(ctx, meta("tx-r", n, 2, "ctx.tar", chunk), hashOf(chunk), bytes.NewReader(chunk))
		require.NoError(t, err)
	}

	status, err := svc.ReceiveChunk(ctx, meta("tx-r", 1, 2, "ctx.tar", chunks[1]), hashOf(chunks[1]), bytes.NewReader(chunks[1]))
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Equal(t, 2, status.Received)
	assert.Equal(t, filepath.Join(svc.config.UploadDir, "tx-r", "ctx.tar"), status.Path)

	data, err := os.ReadFile(status.Path)
	require.NoError(t, err)
	assert.Equal(t, "first second", string(data))

	parts, _ := filepath.Glob(filepath.Join(svc.config.UploadDir, "tx-r", "*.part"))
	assert.Empty(t, parts)
}

func TestReceiveChunk_Rejections(t *testing.T) {
	chunk := []byte("data")

	tests := []struct {
		name string
		meta domain.ChunkMetadata
		hash string
		want error
	}{
		{"hash mismatch", meta("tx", 0, 1, "f.tar", chunk), hashOf([]byte("other")), domain.ErrChunkHashMismatch},
		{"hash not hex", meta("tx", 0, 1, "f.tar", chunk), "zz", domain.ErrInvalidChunk},
		{"chunk out of range", meta("tx", 1, 1, "f.tar", chunk), hashOf(chunk), domain.ErrInvalidChunk},
		{"no chunks", meta("tx", 0, 0, "f.tar", chunk), hashOf(chunk), domain.ErrInvalidChunk},
		{"traversal in file name", meta("tx", 0, 1, "../etc/passwd", chunk), hashOf(chunk), domain.ErrInvalidChunk},
		{"traversal in transfer id", meta("../tx", 0, 1, "f.tar", chunk), hashOf(chunk), domain.ErrInvalidChunk},
		{"size mismatch", domain.ChunkMetadata{TransferID: "tx", TotalChunks: 1, ChunkSize: 99, FileName: "f.tar"}, hashOf(chunk), domain.ErrInvalidChunk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			status, err := svc.ReceiveChunk(context.Background(), tt.meta, tt.hash, bytes.NewReader(chunk))
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, status)

			parts, _ := filepath.Glob(filepath.Join(svc.config.UploadDir, "tx", "*"))
			assert.Empty(t, parts)
		})
	}
}

func TestReceiveChunk_TotalSizeMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	chunk := []byte("short")
	m := meta("tx-2", 0, 1, "f.tar", chunk)
	m.TotalSize = 100

	_, err := svc.ReceiveChunk(context.Background(), m, hashOf(chunk), bytes.NewReader(chunk))
	assert.ErrorIs(t, err, domain.ErrTransferIncomplete)
}

func makeTarball(t *testing.T, gz bool, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var tw *tar.Writer
	var zw *gzip.Writer
	if gz {
		zw = gzip.NewWriter(&buf)
		tw = tar.NewWriter(zw)
	} else {
		tw = tar.NewWriter(&buf)
	}
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	if zw != nil {
		require.NoError(t, zw.Close())
	}
	return buf.Bytes()
}

func upload(t *testing.T, svc *Service, id, name string, data []byte) {
	t.Helper()
	status, err := svc.ReceiveChunk(context.Background(), meta(id, 0, 1, name, data), hashOf(data), bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, status.Complete)
}

func TestBuildImage_FromUploadedContext(t *testing.T) {
	for _, gz := range []bool{false, true} {
		svc, rt := newTestService(t)
		archive := makeTarball(t, gz, map[string]string{
			"Dockerfile":  "FROM alpine:3.20\nEXPOSE 8000\n",
			"app/main.sh": "echo hi\n",
		})
		upload(t, svc, "build-1", "context.tar", archive)

		wantDir := filepath.Join(svc.config.UploadDir, "build-1", "context")
		rt.On("BuildImage", mock.Anything, domain.BuildSpec{Tag: "acme/api:2", ContextDir: wantDir, Dockerfile: "Dockerfile"}).Return(nil).Once()

		require.NoError(t, svc.BuildImage(context.Background(), "build-1", "context.tar", "acme/api:2", "Dockerfile"))

		data, err := os.ReadFile(filepath.Join(wantDir, "app", "main.sh"))
		require.NoError(t, err)
		assert.Equal(t, "echo hi\n", string(data))
	}
}

func TestBuildImage_RejectsEscapingEntries(t *testing.T) {
	svc, _ := newTestService(t)
	upload(t, svc, "evil", "context.tar", makeTarball(t, false, map[string]string{"../../outside": "x"}))

	err := svc.BuildImage(context.Background(), "evil", "context.tar", "acme/api:2", "")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(svc.config.UploadDir, "..", "outside"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildImage_MissingTransfer(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.BuildImage(context.Background(), "nope", "context.tar", "acme/api:2", "")
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)

	// Transfer exists but is not assembled yet.
	chunk := []byte("part")
	_, err = svc.ReceiveChunk(context.Background(), meta("partial", 0, 2, "context.tar", chunk), hashOf(chunk), bytes.NewReader(chunk))
	require.NoError(t, err)
	err = svc.BuildImage(context.Background(), "partial", "context.tar", "acme/api:2", "")
	assert.ErrorIs(t, err, domain.ErrTransferIncomplete)
}
