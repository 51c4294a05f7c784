package retention

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdonaldj/spacebak/internal/config"
	"github.com/mcdonaldj/spacebak/internal/inventory"
	"github.com/mcdonaldj/spacebak/internal/mocks"
)

const mb = 1_000_000

var day0 = time.Date(2024, 11, 1, 3, 0, 0, 0, time.UTC)

type fixture struct {
	fs       *mocks.MockFileSystem
	space    *mocks.MockSpaceOracle
	archiver *mocks.MockArchiver
	journal  *recordingJournal
	now      time.Time
	cfg      config.Config
}

func newFixture(total, free uint64) *fixture {
	mockFS := mocks.NewMockFileSystem()
	mockFS.AddDir("/backups")
	mockFS.Files["archive-files.txt"] = []byte("/etc/hosts\n/home/me/docs\n")

	space := mocks.NewMockSpaceOracle(total, free)
	space.FS = mockFS

	archiver := mocks.NewMockArchiver()
	archiver.FS = mockFS
	archiver.Size = 10 * mb

	cfg, _ := config.DefaultConfig()
	cfg.OutputDir = "/backups"
	cfg.FileList = "archive-files.txt"

	return &fixture{
		fs:       mockFS,
		space:    space,
		archiver: archiver,
		journal:  &recordingJournal{},
		now:      time.Date(2024, 12, 15, 3, 0, 0, 0, time.UTC),
		cfg:      *cfg,
	}
}

// addArchive adds an archive created days after day0.
func (f *fixture) addArchive(days int, size int64) string {
	created := day0.Add(time.Duration(days) * 24 * time.Hour)
	path := filepath.Join("/backups", f.cfg.ArchiveName(created))
	f.fs.AddFile(path, size, created)
	return path
}

func (f *fixture) controller() *Controller {
	f.archiver.ModTime = f.now
	now := f.now
	return New(f.cfg, Deps{
		FS:       f.fs,
		Space:    f.space,
		Archiver: f.archiver,
		Journal:  f.journal,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return now },
		RunID:    "test-run",
	})
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	snap, err := inventory.NewScanner(f.fs).Scan("/backups", f.cfg.Label)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return snap.Count()
}

type recordingJournal struct {
	added     []inventory.Archive
	removed   []inventory.Archive
	fileCount int
	err       error
}

func (j *recordingJournal) Added(a inventory.Archive, fileCount int) error {
	j.added = append(j.added, a)
	j.fileCount = fileCount
	return j.err
}

func (j *recordingJournal) Removed(a inventory.Archive) error {
	j.removed = append(j.removed, a)
	return j.err
}

// vanishingFS deletes the file and then reports it was already gone, as
// when another process removes an archive mid-run.
type vanishingFS struct {
	*mocks.MockFileSystem
}

func (v vanishingFS) Remove(name string) error {
	_ = v.MockFileSystem.Remove(name)
	return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
}

func TestRunCountEnforcement(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	var paths []string
	for i := 0; i < 12; i++ {
		paths = append(paths, f.addArchive(i, 10*mb))
	}
	f.cfg.FixedCount = config.FixedCount{Enabled: true, Max: 10}

	res, err := f.controller().Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Deleted) != 2 {
		t.Fatalf("Deleted %d archives, expected 2", len(res.Deleted))
	}
	for i, d := range res.Deleted {
		if d.Archive.Path != paths[i] {
			t.Errorf("deletion %d = %s, expected %s", i, d.Archive.Path, paths[i])
		}
		if d.Reason != ReasonCount {
			t.Errorf("deletion %d reason = %q, expected %q", i, d.Reason, ReasonCount)
		}
	}
	if len(f.archiver.WriteCalls) != 1 {
		t.Errorf("Write called %d times, expected 1", len(f.archiver.WriteCalls))
	}
	if got := f.count(t); got != 11 {
		t.Errorf("archive count after run = %d, expected 11", got)
	}
}

func TestRunCountDisabled(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	for i := 0; i < 12; i++ {
		f.addArchive(i, 10*mb)
	}
	f.cfg.FixedCount = config.FixedCount{Enabled: false, Max: 1}

	res, err := f.controller().Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("Deleted %d archives, expected none with fixed count disabled", len(res.Deleted))
	}
	if got := f.count(t); got != 13 {
		t.Errorf("archive count = %d, expected 13", got)
	}
}

func TestRunSpaceEnforcement(t *testing.T) {
	f := newFixture(10_000*mb, 400*mb)
	first := f.addArchive(0, 100*mb)
	second := f.addArchive(1, 60*mb)
	f.addArchive(2, 500*mb)
	f.cfg.Allowance = 1.1

	res, err := f.controller().Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Needed != 550*mb {
		t.Errorf("Needed = %d, expected %d", res.Needed, 550*mb)
	}
	if len(res.Deleted) != 2 {
		t.Fatalf("Deleted %d archives, expected 2", len(res.Deleted))
	}
	if res.Deleted[0].Archive.Path != first || res.Deleted[1].Archive.Path != second {
		t.Errorf("deleted %s, %s; expected oldest first", res.Deleted[0].Archive.Path, res.Deleted[1].Archive.Path)
	}
	if res.DeletedFor(ReasonSpace) != 2 {
		t.Errorf("DeletedFor(space) = %d, expected 2", res.DeletedFor(ReasonSpace))
	}
	if res.Freed() != 160*mb {
		t.Errorf("Freed = %d, expected %d", res.Freed(), 160*mb)
	}

	// Free space was checked before writing: 400 + 100 + 60 >= 550.
	if res.Before.Free != 400*mb {
		t.Errorf("Before.Free = %d, expected %d", res.Before.Free, 400*mb)
	}
	if len(f.archiver.WriteCalls) != 1 {
		t.Errorf("Write called %d times, expected 1", len(f.archiver.WriteCalls))
	}
}

func TestRunSpaceEstimateFollowsLargest(t *testing.T) {
	f := newFixture(10_000*mb, 400*mb)
	f.addArchive(0, 500*mb)
	f.addArchive(1, 100*mb)

	res, err := f.controller().Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Deleting the 500MB archive drops the estimate to 110MB.
	if len(res.Deleted) != 1 {
		t.Fatalf("Deleted %d archives, expected 1", len(res.Deleted))
	}
	if res.Needed != 110*mb {
		t.Errorf("Needed = %d, expected %d", res.Needed, 110*mb)
	}
}

func TestRunSpaceShortage(t *testing.T) {
	f := newFixture(1_000*mb, 0)
	f.addArchive(0, 100*mb)

	res, err := f.controller().Run()
	if err == nil {
		t.Fatal("Run should fail when space cannot be reclaimed")
	}
	if KindOf(err) != KindSpace {
		t.Errorf("KindOf = %v, expected %v", KindOf(err), KindSpace)
	}
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("error should wrap ErrInsufficientSpace: %v", err)
	}
	if len(res.Deleted) != 1 {
		t.Errorf("Deleted %d archives, expected 1", len(res.Deleted))
	}
	if res.Needed != 110*mb {
		t.Errorf("Needed = %d, expected the last estimate %d", res.Needed, 110*mb)
	}
	if len(f.archiver.WriteCalls) != 0 {
		t.Error("Write should not be attempted after a space shortage")
	}
}

func TestRunNoArchives(t *testing.T) {
	f := newFixture(1_000*mb, 0)

	res, err := f.controller().Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("Deleted %d archives, expected 0", len(res.Deleted))
	}
	if len(f.archiver.WriteCalls) != 1 {
		t.Fatalf("Write called %d times, expected 1", len(f.archiver.WriteCalls))
	}
	if got := f.count(t); got != 1 {
		t.Errorf("archive count = %d, expected 1", got)
	}
}

func TestRunWritesFileListToDestination(t *testing.T) {
	f := newFixture(1_000*mb, 500*mb)
	f.archiver.FileCount = 42

	res, err := f.controller().Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	call := f.archiver.WriteCalls[0]
	expectedDest := "/backups/[2024-12-15 @ 03-00] backup.tgz"
	if call.DestPath != expectedDest {
		t.Errorf("DestPath = %q, expected %q", call.DestPath, expectedDest)
	}
	if strings.Join(call.SourcePaths, ",") != "/etc/hosts,/home/me/docs" {
		t.Errorf("SourcePaths = %q", call.SourcePaths)
	}
	if res.Archive == nil || res.Archive.Path != expectedDest {
		t.Fatalf("Archive = %+v, expected %s", res.Archive, expectedDest)
	}
	if res.Archive.Size != 10*mb {
		t.Errorf("Archive.Size = %d, expected %d", res.Archive.Size, 10*mb)
	}
	if res.FileCount != 42 {
		t.Errorf("FileCount = %d, expected 42", res.FileCount)
	}
	if res.RunID != "test-run" {
		t.Errorf("RunID = %q, expected test-run", res.RunID)
	}
	if res.After.Total != 1_000*mb {
		t.Errorf("After.Total = %d, expected usage to be read after the write", res.After.Total)
	}
}

func TestRunIdempotentWithoutPressure(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	for i := 0; i < 3; i++ {
		f.addArchive(i, 10*mb)
	}

	for run := 0; run < 2; run++ {
		res, err := f.controller().Run()
		if err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
		if len(res.Deleted) != 0 {
			t.Errorf("run %d deleted %d archives, expected 0", run, len(res.Deleted))
		}
		f.now = f.now.Add(24 * time.Hour)
	}

	if got := f.count(t); got != 5 {
		t.Errorf("archive count = %d, expected 5", got)
	}
}

func TestRunSameTimestampKeepsArchives(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	f.cfg.FixedCount = config.FixedCount{Enabled: true, Max: 2}
	f.addArchive(0, 10*mb)
	f.addArchive(1, 10*mb)

	if _, err := f.controller().Run(); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if got := f.count(t); got != 3 {
		t.Fatalf("archive count = %d, expected 3", got)
	}
	removed := len(f.fs.Removed)

	// Same clock: the name is already taken.
	res, err := f.controller().Run()
	if KindOf(err) != KindWrite {
		t.Fatalf("KindOf = %v, expected %v (err: %v)", KindOf(err), KindWrite, err)
	}
	if !errors.Is(err, ErrArchiveExists) {
		t.Errorf("error should wrap ErrArchiveExists: %v", err)
	}
	if len(res.Deleted) != 0 || len(f.fs.Removed) != removed {
		t.Errorf("second run deleted %v, expected nothing", f.fs.Removed[removed:])
	}
	if len(f.archiver.WriteCalls) != 1 {
		t.Errorf("Write calls = %d, expected 1", len(f.archiver.WriteCalls))
	}
	if got := f.count(t); got != 3 {
		t.Errorf("archive count = %d, expected 3", got)
	}
}

func TestRunMissingFileList(t *testing.T) {
	f := newFixture(1_000*mb, 0)
	delete(f.fs.Files, "archive-files.txt")
	for i := 0; i < 12; i++ {
		f.addArchive(i, 100*mb)
	}

	_, err := f.controller().Run()
	if KindOf(err) != KindConfig {
		t.Fatalf("KindOf = %v, expected %v (err: %v)", KindOf(err), KindConfig, err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap ErrNotExist: %v", err)
	}
	if len(f.fs.Removed) != 0 {
		t.Errorf("removed %v, expected no deletions", f.fs.Removed)
	}
	if len(f.archiver.WriteCalls) != 0 {
		t.Error("Write should not be attempted without a file list")
	}
	if len(f.space.Calls) != 0 {
		t.Error("disk usage should not be read without a file list")
	}
}

func TestRunEmptyFileList(t *testing.T) {
	f := newFixture(1_000*mb, 500*mb)
	f.fs.Files["archive-files.txt"] = []byte("# nothing yet\n\n")

	_, err := f.controller().Run()
	if KindOf(err) != KindConfig {
		t.Errorf("KindOf = %v, expected %v", KindOf(err), KindConfig)
	}
}

func TestRunDeleteAlreadyGone(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	first := f.addArchive(0, 10*mb)
	f.addArchive(1, 10*mb)
	f.cfg.FixedCount.Max = 1

	c := f.controller()
	c.fs = vanishingFS{f.fs}
	c.scanner = inventory.NewScanner(c.fs)

	res, err := c.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0].Archive.Path != first {
		t.Fatalf("Deleted = %+v, expected only %s", res.Deleted, first)
	}
	if !res.Deleted[0].Gone {
		t.Error("deletion should be marked Gone")
	}
	if res.Freed() != 0 {
		t.Errorf("Freed = %d, expected 0 for an archive already gone", res.Freed())
	}
}

func TestRunDeleteStuck(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	first := f.addArchive(0, 10*mb)
	f.addArchive(1, 10*mb)
	f.cfg.FixedCount.Max = 1
	// Reports gone but the entry stays listed.
	f.fs.RemoveErrors[first] = &fs.PathError{Op: "remove", Path: first, Err: fs.ErrNotExist}

	_, err := f.controller().Run()
	if KindOf(err) != KindDelete {
		t.Fatalf("KindOf = %v, expected %v (err: %v)", KindOf(err), KindDelete, err)
	}
	if len(f.archiver.WriteCalls) != 0 {
		t.Error("Write should not be attempted after a failed delete")
	}
}

func TestRunDeletePermissionDenied(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	first := f.addArchive(0, 10*mb)
	f.addArchive(1, 10*mb)
	f.cfg.FixedCount.Max = 1
	f.fs.RemoveErrors[first] = &fs.PathError{Op: "remove", Path: first, Err: fs.ErrPermission}

	_, err := f.controller().Run()
	if KindOf(err) != KindDelete {
		t.Fatalf("KindOf = %v, expected %v", KindOf(err), KindDelete)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("error should wrap ErrPermission: %v", err)
	}
	var re *Error
	if errors.As(err, &re) && re.Path != first {
		t.Errorf("Error.Path = %q, expected %q", re.Path, first)
	}
	if len(f.archiver.WriteCalls) != 0 {
		t.Error("Write should not be attempted after a failed delete")
	}
}

func TestRunScanError(t *testing.T) {
	f := newFixture(1_000*mb, 500*mb)
	f.fs.Errors["/backups"] = fs.ErrPermission

	_, err := f.controller().Run()
	if KindOf(err) != KindScan {
		t.Fatalf("KindOf = %v, expected %v", KindOf(err), KindScan)
	}
	if len(f.archiver.WriteCalls) != 0 {
		t.Error("Write should not be attempted after a scan failure")
	}
}

func TestRunStatError(t *testing.T) {
	tests := []struct {
		name      string
		failAfter int
		deletions int
	}{
		{"before pruning", 0, 0},
		{"after a deletion", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(10_000*mb, 100*mb)
			f.addArchive(0, 100*mb)
			f.addArchive(1, 500*mb)
			f.space.Err = mocks.ErrInjected
			f.space.FailAfter = tt.failAfter

			res, err := f.controller().Run()
			if KindOf(err) != KindStat {
				t.Fatalf("KindOf = %v, expected %v (err: %v)", KindOf(err), KindStat, err)
			}
			if !errors.Is(err, mocks.ErrInjected) {
				t.Errorf("error should wrap the oracle error: %v", err)
			}
			if len(res.Deleted) != tt.deletions {
				t.Errorf("Deleted %d archives, expected %d", len(res.Deleted), tt.deletions)
			}
			if len(f.archiver.WriteCalls) != 0 {
				t.Error("Write should not be attempted after a stat failure")
			}
		})
	}
}

func TestRunWriteFailureKeepsDeletions(t *testing.T) {
	f := newFixture(10_000*mb, 450*mb)
	f.addArchive(0, 100*mb)
	f.addArchive(1, 500*mb)
	f.archiver.Errors["Write"] = errors.New("disk full")

	res, err := f.controller().Run()
	if KindOf(err) != KindWrite {
		t.Fatalf("KindOf = %v, expected %v", KindOf(err), KindWrite)
	}
	if len(f.fs.Removed) != 1 || len(res.Deleted) != 1 {
		t.Errorf("expected the pruning deletion to stand, removed %v", f.fs.Removed)
	}
	if res.Archive != nil {
		t.Error("Archive should be nil after a write failure")
	}
	if len(f.journal.added) != 0 {
		t.Error("journal should not record a failed write")
	}
}

func TestRunJournal(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	first := f.addArchive(0, 10*mb)
	f.addArchive(1, 10*mb)
	f.cfg.FixedCount.Max = 1
	f.archiver.FileCount = 7

	res, err := f.controller().Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(f.journal.removed) != 1 || f.journal.removed[0].Path != first {
		t.Errorf("journal removed %+v, expected %s", f.journal.removed, first)
	}
	if len(f.journal.added) != 1 || f.journal.added[0].Path != res.Archive.Path {
		t.Errorf("journal added %+v, expected %s", f.journal.added, res.Archive.Path)
	}
	if f.journal.fileCount != 7 {
		t.Errorf("journal fileCount = %d, expected 7", f.journal.fileCount)
	}
}

func TestRunJournalErrorsAreNotFatal(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	f.addArchive(0, 10*mb)
	f.addArchive(1, 10*mb)
	f.cfg.FixedCount.Max = 1
	f.journal.err = errors.New("journal unwritable")

	if _, err := f.controller().Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestRunNilJournal(t *testing.T) {
	f := newFixture(100_000*mb, 50_000*mb)
	f.addArchive(0, 10*mb)
	f.addArchive(1, 10*mb)
	f.cfg.FixedCount.Max = 1

	c := New(f.cfg, Deps{FS: f.fs, Space: f.space, Archiver: f.archiver})
	if _, err := c.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.RunID() == "" {
		t.Error("RunID should be generated when not given")
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		size      int64
		allowance float64
		expected  uint64
	}{
		{500 * mb, 1.1, 550 * mb},
		{100, 1.0, 100},
		{3, 1.5, 5},
		{10, 1.04, 10},
		{1, 2.0, 2},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d*%g", tt.size, tt.allowance), func(t *testing.T) {
			f := newFixture(1, 1)
			f.cfg.Allowance = tt.allowance
			f.addArchive(0, tt.size)
			snap, _ := inventory.NewScanner(f.fs).Scan("/backups", f.cfg.Label)

			if got := f.controller().estimate(snap, 0); got != tt.expected {
				t.Errorf("estimate = %d, expected %d", got, tt.expected)
			}
		})
	}

	f := newFixture(1, 1)
	if got := f.controller().estimate(inventory.Snapshot{}, 77); got != 77 {
		t.Errorf("estimate on empty snapshot = %d, expected the last value 77", got)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Kind: KindDelete, Op: "delete", Path: "/backups/x", Err: fs.ErrPermission}
	if err.Error() != "delete /backups/x: permission denied" {
		t.Errorf("Error() = %q", err.Error())
	}

	noPath := &Error{Kind: KindLocked, Op: "acquire lock", Err: errors.New("held")}
	if noPath.Error() != "acquire lock: held" {
		t.Errorf("Error() = %q", noPath.Error())
	}

	wrapped := fmt.Errorf("run: %w", err)
	if KindOf(wrapped) != KindDelete {
		t.Errorf("KindOf(wrapped) = %v, expected delete", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("KindOf(plain) should be KindUnknown")
	}
	if KindOf(nil) != KindUnknown {
		t.Error("KindOf(nil) should be KindUnknown")
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindConfig:  "config",
		KindScan:    "scan",
		KindStat:    "stat",
		KindDelete:  "delete",
		KindSpace:   "space",
		KindWrite:   "write",
		KindLocked:  "locked",
		KindUnknown: "unknown",
	}
	for k, expected := range kinds {
		if k.String() != expected {
			t.Errorf("Kind(%d).String() = %q, expected %q", k, k.String(), expected)
		}
	}
}
