// Package artifact loads the bytes of an input binary, either memory-mapped
// from the local filesystem or downloaded from a storage backend.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/sizemap/pkg/errors"
	"github.com/sizemap/pkg/utils"
)

// StoragePrefix marks a reference as a key in the configured storage
// backend rather than a local path.
const StoragePrefix = "storage://"

// Downloader fetches objects by key. storage.Storage satisfies it.
type Downloader interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// Artifact is the read-only content of one input. Close releases the
// mapping, after which Bytes must not be used.
type Artifact struct {
	Name string

	data   []byte
	mapped bool
	unmap  func() error

	once   sync.Once
	digest string
}

// FromBytes wraps data already in memory.
func FromBytes(name string, data []byte) *Artifact {
	return &Artifact{Name: name, data: data}
}

// Bytes returns the content.
func (a *Artifact) Bytes() []byte {
	return a.data
}

// Size returns the content length in bytes.
func (a *Artifact) Size() int {
	return len(a.data)
}

// Mapped reports whether the content is memory-mapped.
func (a *Artifact) Mapped() bool {
	return a.mapped
}

// SHA256 returns the hex digest of the content.
func (a *Artifact) SHA256() string {
	a.once.Do(func() {
		sum := sha256.Sum256(a.data)
		a.digest = hex.EncodeToString(sum[:])
	})
	return a.digest
}

// Close releases the mapping, if any.
func (a *Artifact) Close() error {
	if a.unmap == nil {
		return nil
	}
	err := a.unmap()
	a.unmap = nil
	a.data = nil
	return err
}

// Open maps the file at p read-only. When mapping is not possible the file
// is read into memory instead.
func Open(p string, logger utils.Logger) (*Artifact, error) {
	logger = utils.OrNull(logger)

	f, err := os.Open(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to open artifact", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to stat artifact", err)
	}
	if info.IsDir() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "artifact %s is a directory", p)
	}

	if size := info.Size(); size > 0 && int64(int(size)) == size {
		data, unmap, err := mapFile(f, int(size))
		if err == nil {
			logger.Debug("Mapped %s (%d bytes)", p, size)
			return &Artifact{Name: filepath.Base(p), data: data, mapped: true, unmap: unmap}, nil
		}
		logger.Debug("mmap of %s failed, reading instead: %v", p, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to read artifact", err)
	}
	return &Artifact{Name: filepath.Base(p), data: data}, nil
}

// Load opens ref, which is either a local path or StoragePrefix followed by
// a storage key. store may be nil when ref is a local path.
func Load(ctx context.Context, ref string, store Downloader, logger utils.Logger) (*Artifact, error) {
	key, ok := strings.CutPrefix(ref, StoragePrefix)
	if !ok {
		return Open(ref, logger)
	}
	if store == nil {
		return nil, apperrors.Newf(apperrors.CodeConfigError, "no storage backend configured for %s", ref)
	}
	if key == "" {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "empty storage key in %q", ref)
	}

	rc, err := store.Download(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to download %s", key), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to read %s", key), err)
	}
	utils.OrNull(logger).Debug("Downloaded %s (%d bytes)", key, len(data))
	return FromBytes(path.Base(key), data), nil
}
