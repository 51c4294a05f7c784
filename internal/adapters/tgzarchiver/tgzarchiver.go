// Package tgzarchiver provides an archiver adapter writing gzip-compressed tar files.
package tgzarchiver

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/mcdonaldj/spacebak/internal/config"
	"github.com/mcdonaldj/spacebak/internal/ports"
)

// TgzArchiver implements ports.Archiver using archive/tar over gzip.
type TgzArchiver struct {
	level int
}

// Option is a functional option for configuring TgzArchiver.
type Option func(*TgzArchiver)

// WithLevel sets the gzip compression level.
func WithLevel(level int) Option {
	return func(a *TgzArchiver) {
		a.level = level
	}
}

// LevelFor maps a config compression name to a gzip level.
func LevelFor(compression string) int {
	switch compression {
	case config.CompressionFastest:
		return gzip.BestSpeed
	case config.CompressionBest:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

// New creates a new TgzArchiver adapter.
func New(opts ...Option) *TgzArchiver {
	a := &TgzArchiver{level: gzip.DefaultCompression}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Write creates a tar.gz archive of sourcePaths at destPath.
// Directories are added recursively. Each entry is named after its absolute
// source path without the leading separator.
//
// The archive is written to a hidden temp file beside destPath and renamed
// into place only once complete, so a failure never leaves a file at destPath.
func (a *TgzArchiver) Write(destPath string, sourcePaths []string) (fileCount int, err error) {
	if len(sourcePaths) == 0 {
		return 0, errors.New("no source paths to archive")
	}

	if _, statErr := os.Lstat(destPath); statErr == nil {
		return 0, fmt.Errorf("destination already exists: %s", destPath)
	} else if !os.IsNotExist(statErr) {
		return 0, fmt.Errorf("checking destination: %w", statErr)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".*.partial")
	if err != nil {
		return 0, fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("archiver panic: %v", r)
		}
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath) // Best effort cleanup on error path
			fileCount = 0
		}
	}()

	fileCount, err = a.writeTo(tmp, sourcePaths)
	if err != nil {
		return 0, err
	}

	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("finalizing archive: %w", err)
	}

	return fileCount, nil
}

func (a *TgzArchiver) writeTo(w io.Writer, sourcePaths []string) (int, error) {
	gz, err := gzip.NewWriterLevel(w, a.level)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(gz)
	fileCount := 0

	for _, src := range sourcePaths {
		abs, err := filepath.Abs(src)
		if err != nil {
			return 0, fmt.Errorf("resolving %s: %w", src, err)
		}

		walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			added, err := addEntry(tw, path, d)
			if added {
				fileCount++
			}
			return err
		})
		if walkErr != nil {
			return 0, fmt.Errorf("adding %s: %w", src, walkErr)
		}
	}

	// Close tar writer first to flush the trailer, then gzip
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("closing gzip writer: %w", err)
	}

	return fileCount, nil
}

// addEntry writes one filesystem entry. It reports whether a regular file was added.
func addEntry(tw *tar.Writer, path string, d fs.DirEntry) (bool, error) {
	name := archiveName(path)
	if name == "" {
		return false, nil // filesystem root has no entry of its own
	}

	info, err := d.Info()
	if err != nil {
		return false, err
	}
	if info.Mode()&(os.ModeSocket|os.ModeNamedPipe) != 0 {
		return false, nil
	}

	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return false, err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return false, err
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	_, copyErr := io.Copy(tw, file)
	_ = file.Close() // Explicitly ignore close error - data already copied

	return copyErr == nil, copyErr
}

// archiveName converts an absolute path into its tar entry name.
func archiveName(absPath string) string {
	return strings.TrimPrefix(filepath.ToSlash(absPath), "/")
}

// Compile-time check that TgzArchiver implements ports.Archiver.
var _ ports.Archiver = (*TgzArchiver)(nil)
