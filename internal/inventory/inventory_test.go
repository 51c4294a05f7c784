package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcdonaldj/spacebak/internal/adapters/osfs"
	"github.com/mcdonaldj/spacebak/internal/mocks"
)

var base = time.Date(2024, 12, 1, 3, 0, 0, 0, time.UTC)

func TestScanFiltersAndOrders(t *testing.T) {
	mockFS := mocks.NewMockFileSystem()
	mockFS.AddDir("/backups")
	mockFS.AddFile("/backups/[2024-12-03] backup.tgz", 300, base.Add(48*time.Hour))
	mockFS.AddFile("/backups/[2024-12-01] backup.tgz", 100, base)
	mockFS.AddFile("/backups/[2024-12-02] backup.tgz", 200, base.Add(24*time.Hour))
	mockFS.AddFile("/backups/notes.txt", 9999, base)
	mockFS.AddFile("/backups/backup.tgz.sha256", 64, base)
	mockFS.AddDir("/backups/old backup.tgz")
	mockFS.AddFile("/backups/.[2024-12-04] backup.tgz.123.partial", 50, base)
	mockFS.AddFile("/backups/.hidden backup.tgz", 50, base)

	snap, err := NewScanner(mockFS).Scan("/backups", "backup.tgz")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if snap.Count() != 3 {
		t.Fatalf("Count = %d, expected 3", snap.Count())
	}

	oldest, ok := snap.Oldest()
	if !ok || oldest.Name != "[2024-12-01] backup.tgz" {
		t.Errorf("Oldest = %q, expected the 2024-12-01 archive", oldest.Name)
	}
	newest, ok := snap.Newest()
	if !ok || newest.Name != "[2024-12-03] backup.tgz" {
		t.Errorf("Newest = %q, expected the 2024-12-03 archive", newest.Name)
	}
	largest, ok := snap.Largest()
	if !ok || largest.Size != 300 {
		t.Errorf("Largest size = %d, expected 300", largest.Size)
	}
	if oldest.Path != filepath.Join("/backups", oldest.Name) {
		t.Errorf("Path = %q, expected it joined with the directory", oldest.Path)
	}
	if snap.TotalSize() != 600 {
		t.Errorf("TotalSize = %d, expected 600", snap.TotalSize())
	}

	for i := 1; i < len(snap.Archives); i++ {
		if snap.Archives[i].CreatedAt.Before(snap.Archives[i-1].CreatedAt) {
			t.Errorf("Archives not ordered by creation time at index %d", i)
		}
	}
}

func TestScanEmpty(t *testing.T) {
	mockFS := mocks.NewMockFileSystem()
	mockFS.AddDir("/backups")
	mockFS.AddFile("/backups/unrelated.zip", 10, base)

	snap, err := NewScanner(mockFS).Scan("/backups", "backup.tgz")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if snap.Count() != 0 {
		t.Errorf("Count = %d, expected 0", snap.Count())
	}
	if _, ok := snap.Oldest(); ok {
		t.Error("Oldest should report false for an empty snapshot")
	}
	if _, ok := snap.Newest(); ok {
		t.Error("Newest should report false for an empty snapshot")
	}
	if _, ok := snap.Largest(); ok {
		t.Error("Largest should report false for an empty snapshot")
	}
	if snap.TotalSize() != 0 {
		t.Errorf("TotalSize = %d, expected 0", snap.TotalSize())
	}
}

func TestScanLargestTieBreak(t *testing.T) {
	mockFS := mocks.NewMockFileSystem()
	mockFS.AddDir("/backups")
	// "b" is newer but listed after "a"; equal sizes keep the first listed
	mockFS.AddFile("/backups/b backup.tgz", 500, base)
	mockFS.AddFile("/backups/a backup.tgz", 500, base.Add(time.Hour))
	mockFS.AddFile("/backups/c backup.tgz", 100, base.Add(2*time.Hour))

	snap, err := NewScanner(mockFS).Scan("/backups", "backup.tgz")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	largest, _ := snap.Largest()
	if largest.Name != "a backup.tgz" {
		t.Errorf("Largest = %q, expected %q (first in listing order)", largest.Name, "a backup.tgz")
	}
	oldest, _ := snap.Oldest()
	if oldest.Name != "b backup.tgz" {
		t.Errorf("Oldest = %q, expected %q", oldest.Name, "b backup.tgz")
	}
}

func TestScanEqualTimesAreDeterministic(t *testing.T) {
	mockFS := mocks.NewMockFileSystem()
	mockFS.AddDir("/backups")
	mockFS.AddFile("/backups/z backup.tgz", 1, base)
	mockFS.AddFile("/backups/m backup.tgz", 1, base)
	mockFS.AddFile("/backups/a backup.tgz", 1, base)

	for i := 0; i < 5; i++ {
		snap, err := NewScanner(mockFS).Scan("/backups", "backup.tgz")
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		oldest, _ := snap.Oldest()
		if oldest.Name != "a backup.tgz" {
			t.Fatalf("Oldest = %q, expected lexical first on equal times", oldest.Name)
		}
	}
}

func TestScanListError(t *testing.T) {
	mockFS := mocks.NewMockFileSystem()
	mockFS.Errors["/backups"] = os.ErrPermission

	_, err := NewScanner(mockFS).Scan("/backups", "backup.tgz")
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("Scan error = %v, expected ErrPermission", err)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	mockFS := mocks.NewMockFileSystem()

	if _, err := NewScanner(mockFS).Scan("/not-mounted", "backup.tgz"); err == nil {
		t.Error("Scan should fail for a missing directory")
	}
}

func TestScanRealDirectory(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "spacebak-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	files := []struct {
		name    string
		size    int
		modTime time.Time
	}{
		{"[2] backup.tgz", 20, base.Add(time.Hour)},
		{"[1] backup.tgz", 10, base},
		{"other.txt", 5, base},
	}
	for _, f := range files {
		path := filepath.Join(tempDir, f.name)
		if err := os.WriteFile(path, make([]byte, f.size), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", f.name, err)
		}
		if err := os.Chtimes(path, f.modTime, f.modTime); err != nil {
			t.Fatalf("Failed to set times on %s: %v", f.name, err)
		}
	}

	snap, err := NewScanner(osfs.New()).Scan(tempDir, "backup.tgz")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if snap.Count() != 2 {
		t.Fatalf("Count = %d, expected 2", snap.Count())
	}
	oldest, _ := snap.Oldest()
	if oldest.Name != "[1] backup.tgz" || oldest.Size != 10 {
		t.Errorf("Oldest = %+v, expected [1] backup.tgz of 10 bytes", oldest)
	}
	largest, _ := snap.Largest()
	if largest.Name != "[2] backup.tgz" {
		t.Errorf("Largest = %q, expected [2] backup.tgz", largest.Name)
	}
}

func TestNewSnapshot(t *testing.T) {
	in := []Archive{
		{Name: "b", Size: 30, CreatedAt: base.Add(2 * time.Hour)},
		{Name: "c", Size: 30, CreatedAt: base},
		{Name: "a", Size: 10, CreatedAt: base.Add(time.Hour)},
	}

	snap := NewSnapshot(in)

	var order []string
	for _, a := range snap.Archives {
		order = append(order, a.Name)
	}
	if got := strings.Join(order, ","); got != "c,a,b" {
		t.Errorf("order = %s, expected c,a,b", got)
	}
	if largest, _ := snap.Largest(); largest.Name != "b" {
		t.Errorf("largest = %s, expected b (first listed)", largest.Name)
	}
	if in[0].Name != "b" {
		t.Error("NewSnapshot should not reorder its input")
	}
}
