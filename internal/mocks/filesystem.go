// Package mocks provides mock implementations for testing.
package mocks

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mcdonaldj/spacebak/internal/ports"
)

// MockFileSystem implements ports.FileSystem for testing.
type MockFileSystem struct {
	// Files maps paths to file contents for ReadFile/WriteFile
	Files map[string][]byte
	// Dirs maps paths to directory entries for ReadDir
	Dirs map[string][]os.DirEntry
	// Stats maps paths to FileInfo for Stat
	Stats map[string]os.FileInfo
	// Errors maps paths to errors (for simulating failures)
	Errors map[string]error
	// RemoveErrors maps paths to errors returned only by Remove
	RemoveErrors map[string]error
	// Removed records every successful Remove in call order
	Removed []string
	// FreedBytes is the total size of files removed so far
	FreedBytes uint64
}

// NewMockFileSystem creates a new mock filesystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		Files:        make(map[string][]byte),
		Dirs:         make(map[string][]os.DirEntry),
		Stats:        make(map[string]os.FileInfo),
		Errors:       make(map[string]error),
		RemoveErrors: make(map[string]error),
	}
}

// AddDir registers an empty directory.
func (m *MockFileSystem) AddDir(path string) {
	if _, ok := m.Dirs[path]; !ok {
		m.Dirs[path] = []os.DirEntry{}
	}
	m.Stats[path] = &mockFileInfo{name: filepath.Base(path), isDir: true, mode: os.ModeDir | 0755}
	m.link(path, m.Stats[path])
}

// AddFile registers a file of the given size and modification time and
// lists it in its parent directory.
func (m *MockFileSystem) AddFile(path string, size int64, modTime time.Time) {
	info := &mockFileInfo{name: filepath.Base(path), size: size, mode: 0644, modTime: modTime}
	m.Stats[path] = info
	m.link(path, info)
}

// link adds (or replaces) the entry for path in its parent's listing.
func (m *MockFileSystem) link(path string, info os.FileInfo) {
	parent := filepath.Dir(path)
	entries := m.Dirs[parent]
	kept := entries[:0:0]
	for _, e := range entries {
		if e.Name() != info.Name() {
			kept = append(kept, e)
		}
	}
	kept = append(kept, &mockDirEntry{info: info})
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name() < kept[j].Name() })
	m.Dirs[parent] = kept
}

func (m *MockFileSystem) unlink(path string) {
	parent := filepath.Dir(path)
	base := filepath.Base(path)
	entries := m.Dirs[parent]
	kept := entries[:0:0]
	for _, e := range entries {
		if e.Name() != base {
			kept = append(kept, e)
		}
	}
	if _, ok := m.Dirs[parent]; ok {
		m.Dirs[parent] = kept
	}
}

// ReadDir reads the named directory and returns directory entries.
func (m *MockFileSystem) ReadDir(name string) ([]os.DirEntry, error) {
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if entries, ok := m.Dirs[name]; ok {
		return append([]os.DirEntry(nil), entries...), nil
	}
	return nil, os.ErrNotExist
}

// Stat returns file info for the named file.
func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if info, ok := m.Stats[name]; ok {
		return info, nil
	}
	// Check if we have file content (implies file exists)
	if _, ok := m.Files[name]; ok {
		return &mockFileInfo{name: filepath.Base(name), size: int64(len(m.Files[name]))}, nil
	}
	return nil, os.ErrNotExist
}

// CreateExclusive writes a new file, failing if the path already exists.
func (m *MockFileSystem) CreateExclusive(name string, data []byte, perm os.FileMode) error {
	if err, ok := m.Errors[name]; ok {
		return err
	}
	if _, err := m.Stat(name); err == nil {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	}
	return m.WriteFile(name, data, perm)
}

// WriteFile writes data to the named file, creating it if necessary.
func (m *MockFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err, ok := m.Errors[name]; ok {
		return err
	}
	m.Files[name] = data
	m.AddFile(name, int64(len(data)), time.Now())
	return nil
}

// ReadFile reads the named file and returns the contents.
func (m *MockFileSystem) ReadFile(name string) ([]byte, error) {
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if content, ok := m.Files[name]; ok {
		return content, nil
	}
	return nil, os.ErrNotExist
}

// Remove removes the named file or empty directory.
func (m *MockFileSystem) Remove(name string) error {
	if err, ok := m.RemoveErrors[name]; ok {
		return err
	}
	if err, ok := m.Errors[name]; ok {
		return err
	}
	info, hasStat := m.Stats[name]
	_, hasFile := m.Files[name]
	if !hasStat && !hasFile {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	if hasStat && !info.IsDir() && info.Size() > 0 {
		m.FreedBytes += uint64(info.Size())
	}
	delete(m.Files, name)
	delete(m.Stats, name)
	m.unlink(name)
	m.Removed = append(m.Removed, name)
	return nil
}

// Rename renames (moves) oldpath to newpath.
func (m *MockFileSystem) Rename(oldpath, newpath string) error {
	if err, ok := m.Errors[oldpath]; ok {
		return err
	}
	info, ok := m.Stats[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	if content, ok := m.Files[oldpath]; ok {
		m.Files[newpath] = content
		delete(m.Files, oldpath)
	}
	delete(m.Stats, oldpath)
	m.unlink(oldpath)
	m.AddFile(newpath, info.Size(), info.ModTime())
	return nil
}

// Open opens the named file for reading.
func (m *MockFileSystem) Open(name string) (fs.File, error) {
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if _, ok := m.Files[name]; !ok {
		return nil, os.ErrNotExist
	}
	return &mockFile{name: name, content: m.Files[name]}, nil
}

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *mockFileInfo) Name() string       { return fi.name }
func (fi *mockFileInfo) Size() int64        { return fi.size }
func (fi *mockFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *mockFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *mockFileInfo) IsDir() bool        { return fi.isDir }
func (fi *mockFileInfo) Sys() interface{}   { return nil }

// mockDirEntry implements os.DirEntry for testing.
type mockDirEntry struct {
	info os.FileInfo
}

func (e *mockDirEntry) Name() string               { return e.info.Name() }
func (e *mockDirEntry) IsDir() bool                { return e.info.IsDir() }
func (e *mockDirEntry) Type() os.FileMode          { return e.info.Mode().Type() }
func (e *mockDirEntry) Info() (os.FileInfo, error) { return e.info, nil }

// mockFile implements fs.File for testing.
type mockFile struct {
	name    string
	content []byte
	offset  int
}

func (f *mockFile) Stat() (fs.FileInfo, error) {
	return &mockFileInfo{name: f.name, size: int64(len(f.content))}, nil
}

func (f *mockFile) Read(p []byte) (int, error) {
	if f.offset >= len(f.content) {
		return 0, io.EOF
	}
	n := copy(p, f.content[f.offset:])
	f.offset += n
	return n, nil
}

func (f *mockFile) Close() error { return nil }

// ErrInjected is a generic failure for tests that only need "some error".
var ErrInjected = errors.New("injected error")

// Compile-time check that MockFileSystem implements ports.FileSystem.
var _ ports.FileSystem = (*MockFileSystem)(nil)
