package mocks

import (
	"time"

	"github.com/mcdonaldj/spacebak/internal/ports"
)

// MockArchiver implements ports.Archiver for testing.
type MockArchiver struct {
	// WriteCalls records calls to Write
	WriteCalls []WriteCall
	// Errors maps method calls to errors
	Errors map[string]error
	// FileCount is the file count returned by a successful Write
	FileCount int
	// FS, when set, receives the created archive so later scans see it
	FS *MockFileSystem
	// Size and ModTime describe the archive added to FS
	Size    int64
	ModTime time.Time
}

// WriteCall records parameters of a Write call.
type WriteCall struct {
	DestPath    string
	SourcePaths []string
}

// NewMockArchiver creates a new mock archiver.
func NewMockArchiver() *MockArchiver {
	return &MockArchiver{
		Errors:    make(map[string]error),
		FileCount: 1, // Default to 1 file
	}
}

// Write records the call and, on success, materialises the archive in FS.
func (m *MockArchiver) Write(destPath string, sourcePaths []string) (int, error) {
	m.WriteCalls = append(m.WriteCalls, WriteCall{
		DestPath:    destPath,
		SourcePaths: append([]string(nil), sourcePaths...),
	})
	if err, ok := m.Errors["Write"]; ok {
		return 0, err
	}
	if m.FS != nil {
		modTime := m.ModTime
		if modTime.IsZero() {
			modTime = time.Now()
		}
		m.FS.AddFile(destPath, m.Size, modTime)
	}
	return m.FileCount, nil
}

// Compile-time check that MockArchiver implements ports.Archiver.
var _ ports.Archiver = (*MockArchiver)(nil)
