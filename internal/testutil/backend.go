// Package testutil provides in-memory fakes shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/meigma/bundle/catalog"
	"github.com/meigma/bundle/progress"
	"github.com/meigma/bundle/storage"
	"github.com/meigma/bundle/verify"
)

// Backend operation names recorded by MemBackend.
const (
	OpExists        = "exists"
	OpOpen          = "open"
	OpClose         = "close"
	OpInstallStream = "install-stream"
	OpCommit        = "commit"
	OpDiscard       = "discard"
	OpVerify        = "verify"
	OpRemoveAll     = "remove-all"
)

// Call is one recorded backend operation.
type Call struct {
	Op   string
	Name string
}

// MemBackend is a concurrency-safe in-memory storage.Backend that records
// every call.
type MemBackend struct {
	// OpenHook, when set, runs before each Open without holding the
	// backend lock. A non-nil error fails the Open.
	OpenHook func(ctx context.Context, desc catalog.Descriptor) error

	// VerifyHook, when set, runs before each Verify. A non-nil error fails
	// the Verify.
	VerifyHook func(ctx context.Context, desc catalog.Descriptor) error

	mu    sync.Mutex
	files map[string][]byte
	open  map[*MemHandle]struct{}
	calls []Call
}

// Interface compliance.
var _ storage.Backend = (*MemBackend)(nil)

// NewMemBackend returns an empty backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		files: make(map[string][]byte),
		open:  make(map[*MemHandle]struct{}),
	}
}

// Put installs data under name without recording a call.
func (b *MemBackend) Put(name string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = bytes.Clone(data)
}

// Data returns the installed bytes for name.
func (b *MemBackend) Data(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[name]
	return bytes.Clone(data), ok
}

// Calls returns a copy of the recorded calls.
func (b *MemBackend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// Names returns the bundle names of recorded calls to op, in call order.
func (b *MemBackend) Names(op string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for _, c := range b.calls {
		if c.Op == op {
			names = append(names, c.Name)
		}
	}
	return names
}

// Count returns the number of recorded calls to op.
func (b *MemBackend) Count(op string) int {
	return len(b.Names(op))
}

// OpenHandles returns the number of handles not yet closed.
func (b *MemBackend) OpenHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

func (b *MemBackend) record(op, name string) {
	b.calls = append(b.calls, Call{Op: op, Name: name})
}

// Exists implements storage.Backend.
func (b *MemBackend) Exists(_ context.Context, desc catalog.Descriptor) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(OpExists, desc.Name)
	_, ok := b.files[desc.Name]
	return ok, nil
}

// Open implements storage.Backend.
func (b *MemBackend) Open(ctx context.Context, desc catalog.Descriptor) (storage.Handle, error) {
	b.mu.Lock()
	b.record(OpOpen, desc.Name)
	hook := b.OpenHook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, desc); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[desc.Name]
	if !ok {
		return nil, storage.ErrNotInstalled
	}
	h := &MemHandle{name: desc.Name, data: data}
	b.open[h] = struct{}{}
	return h, nil
}

// Close implements storage.Backend.
func (b *MemBackend) Close(h storage.Handle) error {
	mh, ok := h.(*MemHandle)
	if !ok {
		return storage.ErrForeignHandle
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(OpClose, mh.name)
	if _, ok := b.open[mh]; !ok {
		return storage.ErrClosed
	}
	delete(b.open, mh)
	return nil
}

// InstallStream implements storage.Backend.
func (b *MemBackend) InstallStream(_ context.Context, desc catalog.Descriptor) (storage.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(OpInstallStream, desc.Name)
	return &memWriter{backend: b, name: desc.Name}, nil
}

// Verify implements storage.Backend.
func (b *MemBackend) Verify(ctx context.Context, desc catalog.Descriptor, fn progress.Func) (bool, error) {
	b.mu.Lock()
	b.record(OpVerify, desc.Name)
	data, ok := b.files[desc.Name]
	hook := b.VerifyHook
	b.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, desc); err != nil {
			return false, err
		}
	}
	if !ok {
		return false, nil
	}
	return verify.Stream(ctx, bytes.NewReader(data), int64(len(data)), desc.ContentHash, fn)
}

// RemoveAll implements storage.Backend.
func (b *MemBackend) RemoveAll(_ context.Context, fn progress.Func) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(OpRemoveAll, "")
	clear(b.files)
	progress.Report(fn, 1)
	return nil
}

// MemHandle is a handle returned by MemBackend.
type MemHandle struct {
	name string
	data []byte
}

// Name implements storage.Handle.
func (h *MemHandle) Name() string { return h.name }

// Size implements storage.Handle.
func (h *MemHandle) Size() int64 { return int64(len(h.data)) }

// ReadAt implements storage.Handle.
func (h *MemHandle) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(h.data).ReadAt(p, off)
}

type memWriter struct {
	backend *MemBackend
	name    string
	buf     bytes.Buffer
	done    bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, storage.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *memWriter) Commit() error {
	if w.done {
		return storage.ErrClosed
	}
	w.done = true
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	w.backend.record(OpCommit, w.name)
	w.backend.files[w.name] = bytes.Clone(w.buf.Bytes())
	return nil
}

func (w *memWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	w.backend.record(OpDiscard, w.name)
	return nil
}
