package disk

import (
	"errors"
	"os"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/meigma/bundle/storage"
)

// Bundle is an open installed bundle.
type Bundle struct {
	owner  *Backend
	name   string
	file   afero.File
	size   int64
	closed atomic.Bool
}

// Name returns the bundle name.
func (b *Bundle) Name() string { return b.name }

// Size returns the installed size in bytes.
func (b *Bundle) Size() int64 { return b.size }

// ReadAt implements io.ReaderAt.
func (b *Bundle) ReadAt(p []byte, off int64) (int, error) {
	if b.closed.Load() {
		return 0, storage.ErrClosed
	}
	return b.file.ReadAt(p, off)
}

func (b *Bundle) close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return storage.ErrClosed
	}
	return b.file.Close()
}

type installWriter struct {
	fs        afero.Fs
	file      afero.File
	tmpPath   string
	finalPath string
	done      bool
}

func (w *installWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, storage.ErrClosed
	}
	return w.file.Write(p)
}

// Commit renames the temporary file over the final path, replacing any
// previous install.
func (w *installWriter) Commit() error {
	if w.done {
		return storage.ErrClosed
	}
	w.done = true
	if err := w.file.Close(); err != nil {
		_ = w.fs.Remove(w.tmpPath)
		return err
	}
	if err := w.fs.Rename(w.tmpPath, w.finalPath); err != nil {
		_ = w.fs.Remove(w.tmpPath)
		return err
	}
	return nil
}

// Discard removes the temporary file. It is a no-op after Commit.
func (w *installWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	if err := w.fs.Remove(w.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
