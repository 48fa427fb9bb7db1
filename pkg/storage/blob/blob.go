// Package blob is the content-addressed half of C1: binary uploads and
// large JSON results (decompilation/translation) are stored as files keyed
// by a hash or job id, written atomically via write-to-temp-then-rename so
// a reader never observes a partially written file, and optionally
// compressed with zstd for the larger JSON artifacts.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	sharederrors "github.com/binsight/core/pkg/shared/errors"
)

// Store puts and gets content-addressed blobs under a root directory,
// sharded two levels deep by the first four hex characters of the key to
// avoid a single directory with millions of entries.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, sharederrors.FailedTo("create blob store root", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) pathFor(key string) string {
	shard := key
	if len(shard) > 4 {
		shard = shard[:4]
	}
	return filepath.Join(s.root, shard[:2], shard[2:], key)
}

// Put writes the content of r under key atomically: the data lands in a
// temp file in the same directory, then is renamed into place, which on
// POSIX filesystems is atomic with respect to concurrent readers.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	dest := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, sharederrors.FailedTo("create blob shard directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return 0, sharederrors.FailedTo("create blob temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, sharederrors.FailedTo("write blob content", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, sharederrors.FailedTo("sync blob content", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, sharederrors.FailedTo("close blob temp file", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, sharederrors.FailedTo("rename blob into place", err)
	}
	return n, nil
}

// PutCompressed zstd-compresses r's content before storing it under key.
func (s *Store) PutCompressed(ctx context.Context, key string, r io.Reader) (int64, error) {
	pr, pw := io.Pipe()
	enc, err := zstd.NewWriter(pw)
	if err != nil {
		return 0, sharederrors.FailedTo("create zstd writer", err)
	}
	go func() {
		_, copyErr := io.Copy(enc, r)
		closeErr := enc.Close()
		pw.CloseWithError(firstNonNil(copyErr, closeErr))
	}()
	return s.Put(ctx, key, pr)
}

// Get opens key for reading. The caller must Close the returned ReadCloser.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, sharederrors.FailedTo("open blob", err)
	}
	return f, nil
}

// GetCompressed opens key and wraps it in a zstd decoder.
func (s *Store) GetCompressed(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, sharederrors.FailedTo("create zstd reader", err)
	}
	return &zstdReadCloser{dec: dec, underlying: f}, nil
}

type zstdReadCloser struct {
	dec        *zstd.Decoder
	underlying io.Closer
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }
func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.underlying.Close()
}

// Delete removes key, succeeding silently if it doesn't exist.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return sharederrors.FailedTo("delete blob", err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.pathFor(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, sharederrors.FailedTo("stat blob", err)
}

// HashKey computes the sha256 content key for a binary upload.
func HashKey(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, sharederrors.FailedTo("hash content", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ErrNotFound is returned by Get/GetCompressed when key isn't present.
var ErrNotFound = fmt.Errorf("blob: not found")

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
