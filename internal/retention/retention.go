// Package retention decides which archives to delete before a new one is
// written, then writes it.
//
// A run has three phases. Count enforcement deletes the oldest archives
// until at most fixed_count.max remain. Space enforcement keeps deleting the
// oldest archive until the free space on the output filesystem covers the
// size of the largest archive times the allowance. Creation writes the new
// archive. The directory is re-scanned and usage re-read after every
// deletion; no running totals are kept.
package retention

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdonaldj/spacebak/internal/config"
	"github.com/mcdonaldj/spacebak/internal/filelist"
	"github.com/mcdonaldj/spacebak/internal/inventory"
	"github.com/mcdonaldj/spacebak/internal/ports"
)

// Deletion reasons.
const (
	ReasonCount = "count"
	ReasonSpace = "space"
)

// Journal is told about every archive the controller creates or deletes.
// Its errors are logged and otherwise ignored.
type Journal interface {
	Added(a inventory.Archive, fileCount int) error
	Removed(a inventory.Archive) error
}

// Deps are the collaborators of a Controller. Journal and Now are optional.
type Deps struct {
	FS       ports.FileSystem
	Space    ports.SpaceOracle
	Archiver ports.Archiver
	Journal  Journal
	Logger   zerolog.Logger
	Now      func() time.Time
	RunID    string
}

// Deletion is one archive removed during a run.
type Deletion struct {
	Archive inventory.Archive
	Reason  string
	// Gone is set when the archive had already disappeared.
	Gone bool
}

// Result describes what a run did. It is returned, partially filled, with
// every error too.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Files    []string
	Deleted  []Deletion
	Before   ports.Usage
	After    ports.Usage
	// Needed is the last space estimate in bytes.
	Needed    uint64
	Archive   *inventory.Archive
	FileCount int
}

// Freed returns the bytes released by deletions.
func (r *Result) Freed() uint64 {
	var n uint64
	for _, d := range r.Deleted {
		if !d.Gone && d.Archive.Size > 0 {
			n += uint64(d.Archive.Size)
		}
	}
	return n
}

// DeletedFor counts deletions made for reason.
func (r *Result) DeletedFor(reason string) int {
	n := 0
	for _, d := range r.Deleted {
		if d.Reason == reason {
			n++
		}
	}
	return n
}

// Controller runs one retention and backup cycle.
type Controller struct {
	cfg      config.Config
	fs       ports.FileSystem
	space    ports.SpaceOracle
	archiver ports.Archiver
	journal  Journal
	scanner  *inventory.Scanner
	log      zerolog.Logger
	now      func() time.Time
	runID    string
}

// New returns a Controller for cfg. cfg is copied; OutputDir and FileList
// are used as given, so callers expand ~ first.
func New(cfg config.Config, deps Deps) *Controller {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	runID := deps.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Controller{
		cfg:      cfg,
		fs:       deps.FS,
		space:    deps.Space,
		archiver: deps.Archiver,
		journal:  deps.Journal,
		scanner:  inventory.NewScanner(deps.FS),
		log:      deps.Logger.With().Str("run_id", runID).Logger(),
		now:      now,
		runID:    runID,
	}
}

// RunID identifies this controller's run in logs, the lock and the journal.
func (c *Controller) RunID() string {
	return c.runID
}

// Run loads the file list, prunes, and writes a new archive. The file list
// is read first so a bad list never costs an archive.
func (c *Controller) Run() (*Result, error) {
	res := &Result{RunID: c.runID, Started: c.now()}
	defer func() { res.Finished = c.now() }()

	files, err := filelist.Load(c.fs, c.cfg.FileList)
	if err != nil {
		return res, &Error{Kind: KindConfig, Op: "load file list", Path: c.cfg.FileList, Err: err}
	}
	res.Files = files
	c.log.Debug().Int("paths", len(files)).Str("file_list", c.cfg.FileList).Msg("file list loaded")

	// A taken name would fail the write only after pruning.
	name := c.cfg.ArchiveName(res.Started)
	dest := filepath.Join(c.cfg.OutputDir, name)
	if _, err := c.fs.Stat(dest); err == nil {
		return res, &Error{Kind: KindWrite, Op: "write archive", Path: dest, Err: ErrArchiveExists}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return res, &Error{Kind: KindScan, Op: "stat", Path: dest, Err: err}
	}

	if res.Before, err = c.usage(); err != nil {
		return res, err
	}

	if c.cfg.FixedCount.Enabled {
		if err := c.enforceCount(res); err != nil {
			return res, err
		}
	}

	if err := c.enforceSpace(res); err != nil {
		return res, err
	}

	if err := c.create(res, name, dest); err != nil {
		return res, err
	}

	// The archive exists; a failed reading here only leaves After empty.
	if after, err := c.space.Usage(c.cfg.OutputDir); err != nil {
		c.log.Warn().Err(err).Msg("reading disk usage after backup")
	} else {
		res.After = after
	}
	return res, nil
}

// enforceCount deletes the oldest archive while more than fixed_count.max
// exist.
func (c *Controller) enforceCount(res *Result) error {
	limit := c.cfg.FixedCount.Max
	snap, err := c.scan()
	if err != nil {
		return err
	}
	c.log.Debug().Int("count", snap.Count()).Int("max", limit).Msg("checking archive count")

	for snap.Count() > limit {
		oldest, _ := snap.Oldest()
		if err := c.remove(oldest, ReasonCount, res); err != nil {
			return err
		}
		if snap, err = c.rescan(oldest); err != nil {
			return err
		}
	}
	return nil
}

// enforceSpace deletes the oldest archive until free space covers the
// estimated size of the next one. When the directory empties the last
// estimate is kept.
func (c *Controller) enforceSpace(res *Result) error {
	snap, err := c.scan()
	if err != nil {
		return err
	}
	usage, err := c.usage()
	if err != nil {
		return err
	}
	needed := c.estimate(snap, 0)

	for {
		deficit := int64(needed) - int64(usage.Free)
		c.log.Debug().
			Uint64("free", usage.Free).
			Uint64("needed", needed).
			Int64("deficit", deficit).
			Int("count", snap.Count()).
			Msg("checking free space")
		if deficit <= 0 {
			break
		}

		oldest, ok := snap.Oldest()
		if !ok {
			res.Needed = needed
			return &Error{
				Kind: KindSpace,
				Op:   "reclaim space",
				Path: c.cfg.OutputDir,
				Err: fmt.Errorf("%w: need %s free, have %s with no archives left to delete",
					ErrInsufficientSpace, humanize.Bytes(needed), humanize.Bytes(usage.Free)),
			}
		}
		if err := c.remove(oldest, ReasonSpace, res); err != nil {
			return err
		}
		if snap, err = c.rescan(oldest); err != nil {
			return err
		}
		if usage, err = c.usage(); err != nil {
			return err
		}
		needed = c.estimate(snap, needed)
	}

	res.Needed = needed
	return nil
}

// estimate returns the largest archive's size scaled by the allowance, or
// last when there are no archives.
func (c *Controller) estimate(snap inventory.Snapshot, last uint64) uint64 {
	largest, ok := snap.Largest()
	if !ok {
		return last
	}
	return uint64(math.Round(float64(largest.Size) * c.cfg.Allowance))
}

func (c *Controller) create(res *Result, name, dest string) error {
	c.log.Info().Str("path", dest).Int("sources", len(res.Files)).Msg("writing archive")
	count, err := c.archiver.Write(dest, res.Files)
	if err != nil {
		return &Error{Kind: KindWrite, Op: "write archive", Path: dest, Err: err}
	}

	archive := inventory.Archive{Path: dest, Name: name, CreatedAt: c.now()}
	if info, err := c.fs.Stat(dest); err != nil {
		c.log.Warn().Err(err).Str("path", dest).Msg("archive written but stat failed")
	} else {
		archive.Size = info.Size()
		archive.CreatedAt = info.ModTime()
	}
	res.Archive = &archive
	res.FileCount = count

	c.log.Info().
		Str("path", dest).
		Int64("size", archive.Size).
		Int("files", count).
		Msg("archive created")

	if c.journal != nil {
		if err := c.journal.Added(archive, count); err != nil {
			c.log.Warn().Err(err).Str("path", dest).Msg("recording archive in journal")
		}
	}
	return nil
}

// remove deletes a single archive. An archive that is already gone counts
// as deleted.
func (c *Controller) remove(a inventory.Archive, reason string, res *Result) error {
	d := Deletion{Archive: a, Reason: reason}

	err := c.fs.Remove(a.Path)
	switch {
	case err == nil:
		c.log.Info().Str("path", a.Path).Int64("size", a.Size).Str("reason", reason).Msg("deleted archive")
	case errors.Is(err, fs.ErrNotExist):
		d.Gone = true
		c.log.Warn().Str("path", a.Path).Str("reason", reason).Msg("archive already gone")
	default:
		return &Error{Kind: KindDelete, Op: "delete", Path: a.Path, Err: err}
	}
	res.Deleted = append(res.Deleted, d)

	if c.journal != nil {
		if err := c.journal.Removed(a); err != nil {
			c.log.Warn().Err(err).Str("path", a.Path).Msg("removing archive from journal")
		}
	}
	return nil
}

func (c *Controller) scan() (inventory.Snapshot, error) {
	snap, err := c.scanner.Scan(c.cfg.OutputDir, c.cfg.Label)
	if err != nil {
		return inventory.Snapshot{}, &Error{Kind: KindScan, Op: "scan", Path: c.cfg.OutputDir, Err: err}
	}
	return snap, nil
}

// rescan scans again after removed was deleted. If removed is still the
// oldest archive the delete had no effect and looping would never end.
func (c *Controller) rescan(removed inventory.Archive) (inventory.Snapshot, error) {
	snap, err := c.scan()
	if err != nil {
		return snap, err
	}
	if oldest, ok := snap.Oldest(); ok && oldest.Path == removed.Path {
		return snap, &Error{
			Kind: KindDelete,
			Op:   "delete",
			Path: removed.Path,
			Err:  errors.New("archive still present after delete"),
		}
	}
	return snap, nil
}

func (c *Controller) usage() (ports.Usage, error) {
	u, err := c.space.Usage(c.cfg.OutputDir)
	if err != nil {
		return ports.Usage{}, &Error{Kind: KindStat, Op: "disk usage", Path: c.cfg.OutputDir, Err: err}
	}
	return u, nil
}
