package agent

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bnema/flotilla/internal/domain"
	"github.com/bnema/flotilla/pkg/tarball"
)

const (
	partSuffix = ".part"
	contextDir = "context"

	// MaxChunkSize caps a single chunk body.
	MaxChunkSize = 64 << 20
)

var transferIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// uploads writes chunks under dir/{transfer_id}/ and assembles them once all
// are present.
type uploads struct {
	dir string
	mu  sync.Mutex
}

func newUploads(dir string) *uploads {
	return &uploads{dir: dir}
}

func (u *uploads) transferDir(id string) string {
	return filepath.Join(u.dir, id)
}

func partName(n int) string {
	return fmt.Sprintf("%06d%s", n, partSuffix)
}

func validateChunk(meta domain.ChunkMetadata) error {
	switch {
	case !transferIDPattern.MatchString(meta.TransferID):
		return fmt.Errorf("%w: bad transfer id %q", domain.ErrInvalidChunk, meta.TransferID)
	case meta.TotalChunks <= 0:
		return fmt.Errorf("%w: total_chunks must be positive", domain.ErrInvalidChunk)
	case meta.ChunkNumber < 0 || meta.ChunkNumber >= meta.TotalChunks:
		return fmt.Errorf("%w: chunk %d out of range [0,%d)", domain.ErrInvalidChunk, meta.ChunkNumber, meta.TotalChunks)
	case meta.ChunkSize < 0 || meta.ChunkSize > MaxChunkSize:
		return fmt.Errorf("%w: chunk_size %d", domain.ErrInvalidChunk, meta.ChunkSize)
	}
	return validateFileName(meta.FileName)
}

func validateFileName(name string) error {
	if name == "" || name == "." || name == ".." || name == contextDir ||
		filepath.Base(name) != name || strings.HasSuffix(name, partSuffix) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: bad file name %q", domain.ErrInvalidChunk, name)
	}
	return nil
}

// store writes one chunk and returns the number of bytes read.
func (u *uploads) store(meta domain.ChunkMetadata, hash string, body io.Reader) (int64, *domain.UploadStatus, error) {
	if err := validateChunk(meta); err != nil {
		return 0, nil, err
	}
	want, err := hex.DecodeString(strings.TrimSpace(hash))
	if err != nil || len(want) != sha256.Size {
		return 0, nil, fmt.Errorf("%w: X-Chunk-Hash is not a hex sha256", domain.ErrInvalidChunk)
	}

	dir := u.transferDir(meta.TransferID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, nil, err
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return 0, nil, err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(body, MaxChunkSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, nil, fmt.Errorf("read chunk: %w", err)
	}
	if n > MaxChunkSize || (meta.ChunkSize > 0 && n != meta.ChunkSize) {
		return n, nil, fmt.Errorf("%w: got %d bytes, declared %d", domain.ErrInvalidChunk, n, meta.ChunkSize)
	}
	if got := h.Sum(nil); subtle.ConstantTimeCompare(got, want) != 1 {
		return n, nil, fmt.Errorf("%w: chunk %d of %s", domain.ErrChunkHashMismatch, meta.ChunkNumber, meta.TransferID)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	// A chunk resent after assembly finds its parts gone but the file in place.
	target := filepath.Join(dir, meta.FileName)
	if _, err := os.Stat(target); err == nil {
		return n, &domain.UploadStatus{
			TransferID: meta.TransferID,
			Received:   meta.TotalChunks,
			Total:      meta.TotalChunks,
			Complete:   true,
			Path:       target,
		}, nil
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, partName(meta.ChunkNumber))); err != nil {
		return n, nil, err
	}

	received, err := u.countParts(dir, meta.TotalChunks)
	if err != nil {
		return n, nil, err
	}
	status := &domain.UploadStatus{
		TransferID: meta.TransferID,
		Received:   received,
		Total:      meta.TotalChunks,
	}
	if received < meta.TotalChunks {
		return n, status, nil
	}

	path, err := u.assemble(dir, meta)
	if err != nil {
		return n, nil, err
	}
	status.Complete = true
	status.Path = path
	return n, status, nil
}

func (u *uploads) countParts(dir string, total int) (int, error) {
	count := 0
	for i := 0; i < total; i++ {
		_, err := os.Stat(filepath.Join(dir, partName(i)))
		switch {
		case err == nil:
			count++
		case !errors.Is(err, os.ErrNotExist):
			return 0, err
		}
	}
	return count, nil
}

func (u *uploads) assemble(dir string, meta domain.ChunkMetadata) (string, error) {
	target := filepath.Join(dir, meta.FileName)
	tmp, err := os.CreateTemp(dir, ".assembling-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	var written int64
	for i := 0; i < meta.TotalChunks; i++ {
		n, err := appendFile(tmp, filepath.Join(dir, partName(i)))
		if err != nil {
			tmp.Close()
			return "", fmt.Errorf("assemble chunk %d: %w", i, err)
		}
		written += n
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if meta.TotalSize > 0 && written != meta.TotalSize {
		return "", fmt.Errorf("%w: assembled %d bytes, declared %d", domain.ErrTransferIncomplete, written, meta.TotalSize)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}
	for i := 0; i < meta.TotalChunks; i++ {
		_ = os.Remove(filepath.Join(dir, partName(i)))
	}
	return target, nil
}

func appendFile(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(dst, f)
}

// completed returns the path of an assembled transfer.
func (u *uploads) completed(transferID, fileName string) (string, error) {
	if !transferIDPattern.MatchString(transferID) {
		return "", fmt.Errorf("%w: %q", domain.ErrTransferNotFound, transferID)
	}
	if err := validateFileName(fileName); err != nil {
		return "", err
	}
	dir := u.transferDir(transferID)
	path := filepath.Join(dir, fileName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", domain.ErrTransferNotFound, transferID)
	}
	return "", fmt.Errorf("%w: %s/%s", domain.ErrTransferIncomplete, transferID, fileName)
}

// extract unpacks a tar or tar.gz archive into the transfer's context dir.
func (u *uploads) extract(transferID, archive string) (string, error) {
	dest := filepath.Join(u.transferDir(transferID), contextDir)
	if err := os.RemoveAll(dest); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return "", err
	}

	f, err := os.Open(archive)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := tarball.Unpack(f, dest); err != nil {
		return "", err
	}
	return dest, nil
}
