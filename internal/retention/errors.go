package retention

import (
	"errors"
	"fmt"
)

// Kind classifies why a run failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig       // file list missing, unreadable or empty
	KindScan         // output directory could not be listed
	KindStat         // disk usage could not be read
	KindDelete       // an archive could not be removed
	KindSpace        // nothing left to delete and still short of space
	KindWrite        // the archive writer failed
	KindLocked       // another run holds the output directory
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindScan:
		return "scan"
	case KindStat:
		return "stat"
	case KindDelete:
		return "delete"
	case KindSpace:
		return "space"
	case KindWrite:
		return "write"
	case KindLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// ErrInsufficientSpace is the cause of every KindSpace error.
var ErrInsufficientSpace = errors.New("insufficient space")

// ErrArchiveExists is returned when this run's archive name is already
// taken, as when two runs fall within one date_format step.
var ErrArchiveExists = errors.New("archive already exists")

// Error is returned by the controller for every failed run.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}
