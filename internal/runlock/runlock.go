// Package runlock keeps two runs from pruning the same output directory at
// once.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdonaldj/spacebak/internal/adapters/osfs"
	"github.com/mcdonaldj/spacebak/internal/ports"
)

// FileName is the lock file created in the output directory.
const FileName = ".spacebak.lock"

// ErrHeld is wrapped when another run owns the lock.
var ErrHeld = errors.New("output directory is locked")

// Owner is written into the lock file.
type Owner struct {
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	RunID   string    `json:"run_id"`
	Started time.Time `json:"started"`
}

// Options configures Acquire.
type Options struct {
	// FS defaults to the local disk.
	FS ports.FileSystem
	// StaleAfter breaks locks older than this. Zero never breaks a lock.
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Lock is a held lock file.
type Lock struct {
	fs    ports.FileSystem
	path  string
	owner Owner
}

// Path returns the lock file for dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Acquire creates the lock file in dir. If a lock exists and is older than
// StaleAfter it is removed and acquisition retried once.
func Acquire(dir, runID string, opts Options) (*Lock, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	fsys := opts.FS
	if fsys == nil {
		fsys = osfs.New()
	}
	host, _ := os.Hostname()
	owner := Owner{PID: os.Getpid(), Host: host, RunID: runID, Started: now()}
	path := Path(dir)

	for attempt := 0; attempt < 2; attempt++ {
		err := create(fsys, path, owner)
		if err == nil {
			return &Lock{fs: fsys, path: path, owner: owner}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock %s: %w", path, err)
		}

		held, started, err := inspect(fsys, path)
		if errors.Is(err, fs.ErrNotExist) {
			continue // released between our attempt and the read
		}
		if err != nil {
			return nil, fmt.Errorf("reading lock %s: %w", path, err)
		}

		age := now().Sub(started)
		if opts.StaleAfter > 0 && age > opts.StaleAfter {
			opts.Logger.Warn().
				Str("path", path).
				Str("owner_run_id", held.RunID).
				Int("owner_pid", held.PID).
				Dur("age", age).
				Msg("breaking stale lock")
			if err := fsys.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("removing stale lock %s: %w", path, err)
			}
			continue
		}

		return nil, fmt.Errorf("%w by run %s (pid %d on %s) since %s",
			ErrHeld, held.RunID, held.PID, held.Host, started.Format(time.RFC3339))
	}
	return nil, fmt.Errorf("%w: %s", ErrHeld, path)
}

func create(fsys ports.FileSystem, path string, owner Owner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("encoding lock: %w", err)
	}
	return fsys.CreateExclusive(path, append(data, '\n'), 0644)
}

// inspect returns the lock's owner and start time. A lock whose content
// cannot be parsed is dated by its modification time.
func inspect(fsys ports.FileSystem, path string) (Owner, time.Time, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return Owner{}, time.Time{}, err
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err == nil && !owner.Started.IsZero() {
		return owner, owner.Started, nil
	}
	info, err := fsys.Stat(path)
	if err != nil {
		return Owner{}, time.Time{}, err
	}
	return Owner{}, info.ModTime(), nil
}

// Read returns the owner of the lock in dir.
func Read(fsys ports.FileSystem, dir string) (Owner, error) {
	owner, _, err := inspect(fsys, Path(dir))
	return owner, err
}

// Owner returns who holds l.
func (l *Lock) Owner() Owner {
	return l.owner
}

// Release removes the lock file unless another run has since taken it over.
func (l *Lock) Release() error {
	current, _, err := inspect(l.fs, l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading lock %s: %w", l.path, err)
	}
	if current.RunID != l.owner.RunID {
		return fmt.Errorf("lock %s now belongs to run %s", l.path, current.RunID)
	}
	if err := l.fs.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing lock %s: %w", l.path, err)
	}
	return nil
}
