// Package osfs is the ports.FileSystem adapter for the local disk.
package osfs

import (
	"errors"
	"io/fs"
	"os"

	"github.com/mcdonaldj/spacebak/internal/ports"
)

// OSFileSystem implements ports.FileSystem with the os package.
type OSFileSystem struct{}

// New creates a new OSFileSystem adapter.
func New() *OSFileSystem {
	return &OSFileSystem{}
}

func (f *OSFileSystem) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }
func (f *OSFileSystem) Stat(name string) (os.FileInfo, error)      { return os.Stat(name) }
func (f *OSFileSystem) ReadFile(name string) ([]byte, error)       { return os.ReadFile(name) }
func (f *OSFileSystem) Remove(name string) error                   { return os.Remove(name) }
func (f *OSFileSystem) Rename(oldpath, newpath string) error       { return os.Rename(oldpath, newpath) }
func (f *OSFileSystem) Open(name string) (fs.File, error)          { return os.Open(name) }

func (f *OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

// CreateExclusive relies on O_EXCL, so of two processes racing for the same
// name exactly one succeeds.
func (f *OSFileSystem) CreateExclusive(name string, data []byte, perm os.FileMode) error {
	file, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	_, werr := file.Write(data)
	cerr := file.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// Compile-time check that OSFileSystem implements ports.FileSystem.
var _ ports.FileSystem = (*OSFileSystem)(nil)
