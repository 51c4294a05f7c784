// Package ports defines the boundaries between the retention logic and the
// machine it runs on. Each port has an OS adapter under internal/adapters
// and an in-memory double under internal/mocks.
package ports

import (
	"io/fs"
	"os"
)

// FileSystem is every filesystem operation spacebak performs on the output
// directory and the file list.
// Production code uses the osfs adapter; tests use MockFileSystem.
type FileSystem interface {
	// ReadDir lists a directory sorted by filename. The inventory relies on
	// this order to break ties between equally sized archives.
	ReadDir(name string) ([]os.DirEntry, error)

	// Stat returns file info for the named file.
	Stat(name string) (os.FileInfo, error)

	// ReadFile reads the named file.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, replacing any content.
	WriteFile(name string, data []byte, perm os.FileMode) error

	// CreateExclusive writes data to a new file and fails with an error
	// matching fs.ErrExist if the file is already there. Nothing is left
	// behind when the write fails.
	CreateExclusive(name string, data []byte, perm os.FileMode) error

	// Remove deletes the named file. A missing file yields an error
	// matching fs.ErrNotExist.
	Remove(name string) error

	// Rename moves oldpath over newpath.
	Rename(oldpath, newpath string) error

	// Open opens the named file for streaming reads.
	Open(name string) (fs.File, error)
}
