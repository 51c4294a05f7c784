package diskusage

import (
	"errors"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
)

func TestUsageRealDirectory(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "spacebak-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	u, err := New().Usage(tempDir)
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if u.Total == 0 {
		t.Error("Total should be non-zero for a real filesystem")
	}
	if u.Free > u.Total {
		t.Errorf("Free (%d) should not exceed Total (%d)", u.Free, u.Total)
	}
}

func TestUsageMissingPath(t *testing.T) {
	_, err := New().Usage("/nonexistent/spacebak/path")
	if err == nil {
		t.Error("Usage should fail for a missing path")
	}
}

func TestUsageMapsFields(t *testing.T) {
	d := &DiskUsage{usage: func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: 1000, Used: 600, Free: 350}, nil
	}}

	u, err := d.Usage("/backups")
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if u.Total != 1000 || u.Used != 600 || u.Free != 350 {
		t.Errorf("Usage = %+v, expected {1000 600 350}", u)
	}
	if got := u.UsedPercent(); got != 60 {
		t.Errorf("UsedPercent = %v, expected 60", got)
	}
}

func TestUsageWrapsError(t *testing.T) {
	cause := errors.New("statfs exploded")
	d := &DiskUsage{usage: func(string) (*disk.UsageStat, error) { return nil, cause }}

	_, err := d.Usage("/backups")
	if !errors.Is(err, cause) {
		t.Errorf("Usage error = %v, expected it to wrap the cause", err)
	}
}
