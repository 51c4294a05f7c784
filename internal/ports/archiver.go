package ports

// Archiver abstracts archive creation for testability.
// Production code uses TgzArchiver adapter; tests use MockArchiver.
type Archiver interface {
	// Write bundles sourcePaths into a single compressed archive at destPath.
	// Returns the number of files archived.
	// On failure no file is left at destPath.
	Write(destPath string, sourcePaths []string) (fileCount int, err error)
}
