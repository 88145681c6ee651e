package vfs

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// NewMem returns a new memory-backed FS implementation, for use in tests
// that want determinism and no reliance on the local disk.
func NewMem() *MemFS {
	return &MemFS{files: make(map[string]*memFileData)}
}

// MemFS is a memory-backed FS implementation. It is safe for concurrent
// use by multiple goroutines.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFileData
}

type memFileData struct {
	mu   sync.RWMutex
	data []byte
}

func (d *memFileData) size() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.data))
}

// MemFS implements FS.
func (fs *MemFS) Create(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fd := &memFileData{}
	fs.files[name] = fd
	return &memFile{name: name, fs: fs, fd: fd}, nil
}

func (fs *MemFS) OpenReadOnly(name string) (File, error) {
	fs.mu.Lock()
	fd, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return &memFile{name: name, fs: fs, fd: fd, readOnly: true}, nil
}

func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) MkdirAll(dir string) error {
	// MemFS has a flat namespace; directories are implicit in file paths.
	return nil
}

func (fs *MemFS) PathJoin(elem ...string) string {
	out := ""
	for i, e := range elem {
		if i > 0 {
			out += "/"
		}
		out += e
	}
	return out
}

// CorruptByte flips a single byte in the named file, for tests that
// exercise CRC detection (spec scenario S6). It is not part of the FS
// interface; tests reach for the concrete *MemFS.
func (fs *MemFS) CorruptByte(name string, offset int64) error {
	fs.mu.Lock()
	fd, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return errors.Newf("no such file: %s", name)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if offset < 0 || offset >= int64(len(fd.data)) {
		return errors.Newf("offset %d out of range for %s (len %d)", offset, name, len(fd.data))
	}
	fd.data[offset] ^= 0xff
	return nil
}

type memFile struct {
	name     string
	fs       *MemFS
	fd       *memFileData
	readOnly bool
	closed   bool
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.readOnly {
		return 0, errors.Newf("%s: file not open for writing", f.name)
	}
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	f.fd.data = append(f.fd.data, p...)
	return len(p), nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.fd.mu.RLock()
	defer f.fd.mu.RUnlock()
	if off < 0 {
		return 0, errors.Newf("%s: negative offset", f.name)
	}
	if off >= int64(len(f.fd.data)) {
		return 0, errors.Wrapf(errShortRead, "%s: EOF at offset %d", f.name, off)
	}
	n := copy(p, f.fd.data[off:])
	if n < len(p) {
		return n, errors.Wrapf(errShortRead, "%s: short read at offset %d", f.name, off)
	}
	return n, nil
}

func (f *memFile) Sync() error { return nil }

func (f *memFile) Preallocate(offset, length int64) error { return nil }

func (f *memFile) Stat() (os.FileInfo, error) {
	return memFileInfo{name: f.name, size: f.fd.size(), modTime: time.Time{}}, nil
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

var errShortRead = errors.New("vfs: short read")

type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() os.FileMode  { return 0644 }
func (fi memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi memFileInfo) IsDir() bool        { return false }
func (fi memFileInfo) Sys() interface{}   { return nil }
