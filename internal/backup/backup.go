// Package backup runs one complete backup cycle against the real system:
// lock the output directory, prune and write through the retention
// controller, then record metrics.
package backup

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdonaldj/spacebak/internal/adapters/diskusage"
	"github.com/mcdonaldj/spacebak/internal/adapters/osfs"
	"github.com/mcdonaldj/spacebak/internal/adapters/tgzarchiver"
	"github.com/mcdonaldj/spacebak/internal/config"
	"github.com/mcdonaldj/spacebak/internal/filelist"
	"github.com/mcdonaldj/spacebak/internal/inventory"
	"github.com/mcdonaldj/spacebak/internal/manifest"
	"github.com/mcdonaldj/spacebak/internal/metrics"
	"github.com/mcdonaldj/spacebak/internal/ports"
	"github.com/mcdonaldj/spacebak/internal/retention"
	"github.com/mcdonaldj/spacebak/internal/runlock"
)

// Runner holds the adapters a run uses. The zero value is not usable; call
// NewRunner or fill every field.
type Runner struct {
	FS       ports.FileSystem
	Space    ports.SpaceOracle
	Archiver ports.Archiver
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewRunner returns a Runner backed by the operating system.
func NewRunner(cfg *config.Config, log zerolog.Logger) *Runner {
	return &Runner{
		FS:       osfs.New(),
		Space:    diskusage.New(),
		Archiver: tgzarchiver.New(tgzarchiver.WithLevel(tgzarchiver.LevelFor(cfg.Compression))),
		Logger:   log,
		Now:      time.Now,
	}
}

// Resolve returns a copy of cfg with ~ expanded in every path.
func Resolve(cfg *config.Config) (config.Config, error) {
	resolved := *cfg
	for _, p := range []*string{&resolved.OutputDir, &resolved.FileList, &resolved.MetricsFile} {
		expanded, err := config.ExpandPath(*p)
		if err != nil {
			return resolved, &retention.Error{Kind: retention.KindConfig, Op: "expand path", Path: *p, Err: err}
		}
		*p = expanded
	}
	return resolved, nil
}

// Run performs one cycle. The returned result is nil only when the run
// stopped before the controller started.
func (r *Runner) Run(cfg *config.Config) (*retention.Result, error) {
	resolved, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := r.Logger.With().Str("run_id", runID).Logger()

	res, err := r.run(resolved, runID, log)
	r.report(resolved, res, err, log)
	return res, err
}

func (r *Runner) run(cfg config.Config, runID string, log zerolog.Logger) (*retention.Result, error) {
	// A bad file list is a configuration error even when the disk is also
	// missing.
	if _, err := filelist.Load(r.FS, cfg.FileList); err != nil {
		return nil, &retention.Error{Kind: retention.KindConfig, Op: "load file list", Path: cfg.FileList, Err: err}
	}

	// Never create the output directory: a missing one usually means the
	// backup disk is not mounted.
	info, err := r.FS.Stat(cfg.OutputDir)
	if err != nil {
		return nil, &retention.Error{Kind: retention.KindScan, Op: "output directory", Path: cfg.OutputDir, Err: err}
	}
	if !info.IsDir() {
		return nil, &retention.Error{Kind: retention.KindScan, Op: "output directory", Path: cfg.OutputDir, Err: errors.New("not a directory")}
	}

	if cfg.Lock.Enabled {
		lock, err := runlock.Acquire(cfg.OutputDir, runID, runlock.Options{
			FS:         r.FS,
			StaleAfter: cfg.Lock.StaleAfter,
			Now:        r.Now,
			Logger:     log,
		})
		if err != nil {
			kind := retention.KindWrite
			if errors.Is(err, runlock.ErrHeld) {
				kind = retention.KindLocked
			}
			return nil, &retention.Error{Kind: kind, Op: "acquire lock", Path: runlock.Path(cfg.OutputDir), Err: err}
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn().Err(err).Msg("releasing lock")
			}
		}()
	}

	ctrl := retention.New(cfg, retention.Deps{
		FS:       r.FS,
		Space:    r.Space,
		Archiver: r.Archiver,
		Journal:  manifest.NewJournal(r.FS, cfg.OutputDir, runID),
		Logger:   r.Logger,
		Now:      r.Now,
		RunID:    runID,
	})
	return ctrl.Run()
}

// report logs the outcome and writes the metrics textfile when configured.
func (r *Runner) report(cfg config.Config, res *retention.Result, runErr error, log zerolog.Logger) {
	if runErr != nil {
		log.Error().Err(runErr).Str("kind", retention.KindOf(runErr).String()).Msg("backup failed")
	} else if res != nil && res.Archive != nil {
		log.Info().
			Str("path", res.Archive.Path).
			Int("deleted", len(res.Deleted)).
			Uint64("freed", res.Freed()).
			Msg("backup complete")
	}

	if cfg.MetricsFile == "" {
		return
	}
	snap, err := inventory.NewScanner(r.FS).Scan(cfg.OutputDir, cfg.Label)
	if err != nil {
		log.Debug().Err(err).Msg("scanning for metrics")
	}
	rec := metrics.New()
	rec.Observe(res, snap, runErr)
	if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
		log.Warn().Err(err).Str("path", cfg.MetricsFile).Msg("writing metrics")
	}
}

// Inventory lists the archives currently in the output directory.
func (r *Runner) Inventory(cfg *config.Config) (inventory.Snapshot, error) {
	resolved, err := Resolve(cfg)
	if err != nil {
		return inventory.Snapshot{}, err
	}
	return inventory.NewScanner(r.FS).Scan(resolved.OutputDir, resolved.Label)
}

// Usage reads disk usage of the output filesystem.
func (r *Runner) Usage(cfg *config.Config) (ports.Usage, error) {
	resolved, err := Resolve(cfg)
	if err != nil {
		return ports.Usage{}, err
	}
	return r.Space.Usage(resolved.OutputDir)
}

// Verify checksums the named archive, or the latest one, against the
// manifest.
func (r *Runner) Verify(cfg *config.Config, name string) (manifest.VerifyResult, error) {
	resolved, err := Resolve(cfg)
	if err != nil {
		return manifest.VerifyResult{}, err
	}
	res, err := manifest.Verify(r.FS, resolved.OutputDir, name)
	if err != nil {
		return res, err
	}
	if !res.OK() {
		return res, fmt.Errorf("checksum mismatch for %s: expected %s, got %s", res.Entry.File, res.Entry.SHA256, res.Actual)
	}
	return res, nil
}
