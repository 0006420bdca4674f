package storage

// Config holds the filesystem layout of the job pipeline
type Config struct {
	JobDir        string // pending artifacts
	ProcessingDir string // in-flight artifacts
	ProcessedDir  string // finished artifacts
	ErrorDir      string // per-batch error logs
}
