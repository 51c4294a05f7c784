// Package diskusage provides a space oracle adapter backed by gopsutil.
package diskusage

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mcdonaldj/spacebak/internal/ports"
)

// DiskUsage implements ports.SpaceOracle using statfs via gopsutil.
type DiskUsage struct {
	usage func(path string) (*disk.UsageStat, error)
}

// New creates a new DiskUsage adapter.
func New() *DiskUsage {
	return &DiskUsage{usage: disk.Usage}
}

// Usage returns total, used and free bytes of the filesystem holding path.
func (d *DiskUsage) Usage(path string) (ports.Usage, error) {
	st, err := d.usage(path)
	if err != nil {
		return ports.Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return ports.Usage{
		Total: st.Total,
		Used:  st.Used,
		Free:  st.Free,
	}, nil
}

// Compile-time check that DiskUsage implements ports.SpaceOracle.
var _ ports.SpaceOracle = (*DiskUsage)(nil)
