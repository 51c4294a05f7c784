// Package crontab renders the crontab line that triggers unattended runs.
package crontab

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/robfig/cron/v3"
)

// The file list is relative, so the job changes into WorkDir first.
const lineTemplate = `{{.Schedule}} cd {{quote .WorkDir}} && {{quote .BinaryPath}} run{{if .ConfigPath}} --config {{quote .ConfigPath}}{{end}} >> {{quote .LogPath}} 2>&1`

var tmpl = template.Must(template.New("crontab").Funcs(template.FuncMap{"quote": quote}).Parse(lineTemplate))

type Entry struct {
	Schedule   string
	BinaryPath string
	ConfigPath string
	LogPath    string
	WorkDir    string
}

func LogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "." // Fallback to current directory
	}
	return filepath.Join(home, ".spacebak", "spacebak.log")
}

// NewEntry builds an entry running the spacebak binary found in PATH (or
// the running executable) from the current directory.
func NewEntry(schedule, configPath string) (Entry, error) {
	binaryPath, err := exec.LookPath("spacebak")
	if err != nil {
		if binaryPath, err = os.Executable(); err != nil {
			return Entry{}, fmt.Errorf("locating spacebak binary: %w", err)
		}
	}
	if binaryPath, err = filepath.Abs(binaryPath); err != nil {
		return Entry{}, err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return Entry{}, fmt.Errorf("resolving working directory: %w", err)
	}

	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return Entry{}, err
		}
	}

	e := Entry{
		Schedule:   schedule,
		BinaryPath: binaryPath,
		ConfigPath: configPath,
		LogPath:    LogPath(),
		WorkDir:    workDir,
	}
	return e, e.Validate()
}

// Validate checks that Schedule is a standard five-field cron expression.
func (e Entry) Validate() error {
	if _, err := cron.ParseStandard(e.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", e.Schedule, err)
	}
	if e.BinaryPath == "" || e.WorkDir == "" || e.LogPath == "" {
		return fmt.Errorf("crontab entry needs a binary, working directory and log path")
	}
	return nil
}

// Line renders the entry as a single crontab line.
func (e Entry) Line() (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, e); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Next returns the next n activation times after from.
func (e Entry) Next(from time.Time, n int) ([]time.Time, error) {
	sched, err := cron.ParseStandard(e.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", e.Schedule, err)
	}
	times := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		times = append(times, t)
	}
	return times, nil
}

// quote single-quotes s for sh unless it is made only of safe characters.
func quote(s string) string {
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("/._-+=:,@", r)) {
			safe = false
			break
		}
	}
	if safe && s != "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
