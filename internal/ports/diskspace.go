package ports

// Usage is a point-in-time reading of a filesystem's capacity, in bytes.
type Usage struct {
	Total uint64
	Used  uint64
	Free  uint64 // available to unprivileged users
}

// UsedPercent returns Used as a percentage of Total.
func (u Usage) UsedPercent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Total) * 100
}

// SpaceOracle reports filesystem usage for a path.
// Production code uses DiskUsage adapter; tests use MockSpaceOracle.
type SpaceOracle interface {
	Usage(path string) (Usage, error)
}
