// Package manifest keeps a JSON journal of the archives in an output
// directory, with the checksum each had when it was written.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mcdonaldj/spacebak/internal/inventory"
	"github.com/mcdonaldj/spacebak/internal/ports"
)

// FileName is the journal kept in the output directory.
const FileName = ".spacebak-manifest.json"

// ErrNotRecorded is returned by Verify for an archive the journal does not
// know about.
var ErrNotRecorded = errors.New("archive not recorded in manifest")

type Entry struct {
	File      string    `json:"file"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	FileCount int       `json:"file_count"`
	RunID     string    `json:"run_id,omitempty"`
}

type Manifest struct {
	Entries []Entry `json:"entries"`
}

func ManifestPath(outputDir string) string {
	return filepath.Join(outputDir, FileName)
}

// Load reads the journal in outputDir. A missing journal is empty.
func Load(fs ports.FileSystem, outputDir string) (*Manifest, error) {
	path := ManifestPath(outputDir)

	data, err := fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Manifest{Entries: []Entry{}}, nil
		}
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the journal through a temp file so a crash never leaves it
// truncated.
func (m *Manifest) Save(fs ports.FileSystem, outputDir string) error {
	path := ManifestPath(outputDir)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := fs.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return err
	}
	return nil
}

// Add records entry, replacing any entry for the same file.
func (m *Manifest) Add(entry Entry) {
	m.Remove(entry.File)
	m.Entries = append(m.Entries, entry)
}

// Remove drops the entry for file and reports whether there was one.
func (m *Manifest) Remove(file string) bool {
	for i, e := range m.Entries {
		if e.File == file {
			m.Entries = append(m.Entries[:i], m.Entries[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manifest) Find(file string) *Entry {
	for i := range m.Entries {
		if m.Entries[i].File == file {
			return &m.Entries[i]
		}
	}
	return nil
}

// Latest returns the most recently created entry.
func (m *Manifest) Latest() *Entry {
	var latest *Entry
	for i := range m.Entries {
		if latest == nil || !m.Entries[i].CreatedAt.Before(latest.CreatedAt) {
			latest = &m.Entries[i]
		}
	}
	return latest
}

// ComputeSHA256 calculates SHA256 hash of a file
func ComputeSHA256(fs ports.FileSystem, filePath string) (string, error) {
	f, err := fs.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Journal records archive creation and deletion in the manifest of one
// output directory.
type Journal struct {
	fs    ports.FileSystem
	dir   string
	runID string
}

func NewJournal(fs ports.FileSystem, outputDir, runID string) *Journal {
	return &Journal{fs: fs, dir: outputDir, runID: runID}
}

// Added checksums a and records it.
func (j *Journal) Added(a inventory.Archive, fileCount int) error {
	sum, err := ComputeSHA256(j.fs, a.Path)
	if err != nil {
		return fmt.Errorf("checksumming %s: %w", a.Path, err)
	}

	m, err := Load(j.fs, j.dir)
	if err != nil {
		return err
	}
	m.Add(Entry{
		File:      a.Name,
		SHA256:    sum,
		SizeBytes: a.Size,
		CreatedAt: a.CreatedAt,
		FileCount: fileCount,
		RunID:     j.runID,
	})
	return m.Save(j.fs, j.dir)
}

// Removed forgets a. Archives the journal never saw are ignored.
func (j *Journal) Removed(a inventory.Archive) error {
	m, err := Load(j.fs, j.dir)
	if err != nil {
		return err
	}
	if !m.Remove(a.Name) {
		return nil
	}
	return m.Save(j.fs, j.dir)
}

// VerifyResult compares an archive's current checksum with the recorded one.
type VerifyResult struct {
	Entry  Entry
	Actual string
}

func (r VerifyResult) OK() bool {
	return r.Entry.SHA256 == r.Actual
}

// Verify checksums the archive called name in outputDir, or the latest
// recorded archive when name is empty.
func Verify(fs ports.FileSystem, outputDir, name string) (VerifyResult, error) {
	m, err := Load(fs, outputDir)
	if err != nil {
		return VerifyResult{}, err
	}

	var entry *Entry
	if name == "" {
		entry = m.Latest()
		if entry == nil {
			return VerifyResult{}, fmt.Errorf("%w: manifest is empty", ErrNotRecorded)
		}
	} else {
		entry = m.Find(filepath.Base(name))
		if entry == nil {
			return VerifyResult{}, fmt.Errorf("%w: %s", ErrNotRecorded, name)
		}
	}

	sum, err := ComputeSHA256(fs, filepath.Join(outputDir, entry.File))
	if err != nil {
		return VerifyResult{Entry: *entry}, err
	}
	return VerifyResult{Entry: *entry, Actual: sum}, nil
}
