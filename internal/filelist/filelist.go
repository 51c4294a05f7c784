// Package filelist reads the list of paths to back up.
package filelist

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/mcdonaldj/spacebak/internal/ports"
)

// ErrEmpty is returned when the list names no paths.
var ErrEmpty = errors.New("file list is empty")

// Load reads path and returns one entry per non-blank line with trailing
// whitespace removed. Lines starting with '#' are comments.
// Entries are returned as written; they are not checked for existence.
func Load(fs ports.FileSystem, path string) ([]string, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file list %s: %w", path, err)
	}

	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		paths = append(paths, line)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return paths, nil
}
