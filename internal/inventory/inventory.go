// Package inventory scans the output directory for archives belonging to
// this backup set.
package inventory

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mcdonaldj/spacebak/internal/ports"
)

// Archive is one completed backup file.
type Archive struct {
	Path      string
	Name      string
	Size      int64
	CreatedAt time.Time
}

// Snapshot is a point-in-time view of the archives in a directory, ordered
// oldest first. It goes stale as soon as any archive is created or deleted.
type Snapshot struct {
	Archives []Archive
	largest  int
}

// Count returns the number of archives.
func (s Snapshot) Count() int {
	return len(s.Archives)
}

// Oldest returns the archive with the earliest creation time.
func (s Snapshot) Oldest() (Archive, bool) {
	if len(s.Archives) == 0 {
		return Archive{}, false
	}
	return s.Archives[0], true
}

// Newest returns the archive with the latest creation time.
func (s Snapshot) Newest() (Archive, bool) {
	if len(s.Archives) == 0 {
		return Archive{}, false
	}
	return s.Archives[len(s.Archives)-1], true
}

// Largest returns the biggest archive. On equal sizes the one listed first
// in the directory (lexical name order) wins.
func (s Snapshot) Largest() (Archive, bool) {
	if len(s.Archives) == 0 {
		return Archive{}, false
	}
	return s.Archives[s.largest], true
}

// TotalSize returns the combined size of all archives.
func (s Snapshot) TotalSize() int64 {
	var total int64
	for _, a := range s.Archives {
		total += a.Size
	}
	return total
}

// Scanner builds snapshots through a FileSystem.
type Scanner struct {
	fs ports.FileSystem
}

// NewScanner creates a scanner using the given filesystem.
func NewScanner(fs ports.FileSystem) *Scanner {
	return &Scanner{fs: fs}
}

// Scan lists dir and collects every non-directory entry whose name ends
// with label. Unrelated files, subdirectories and hidden files (in-progress
// writes, the lock and the manifest) are ignored.
//
// The creation time of an archive is its modification time: archives are
// renamed into place once complete and never modified afterwards.
func (s *Scanner) Scan(dir, label string) (Snapshot, error) {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing %s: %w", dir, err)
	}

	var archives []Archive
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, label) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // removed between listing and stat
			}
			return Snapshot{}, fmt.Errorf("stat %s: %w", filepath.Join(dir, entry.Name()), err)
		}
		if info.IsDir() {
			continue
		}

		archives = append(archives, Archive{
			Path:      filepath.Join(dir, entry.Name()),
			Name:      entry.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	return NewSnapshot(archives), nil
}

// NewSnapshot orders archives oldest first. archives must be in directory
// listing order, which decides the largest archive among equal sizes.
func NewSnapshot(archives []Archive) Snapshot {
	largest := 0
	for i, a := range archives {
		if a.Size > archives[largest].Size {
			largest = i
		}
	}
	var largestName string
	if len(archives) > 0 {
		largestName = archives[largest].Name
	}

	sorted := make([]Archive, len(archives))
	copy(sorted, archives)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	snap := Snapshot{Archives: sorted}
	for i, a := range sorted {
		if a.Name == largestName {
			snap.largest = i
			break
		}
	}
	return snap
}
