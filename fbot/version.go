package fbot

// Build metadata, set via -ldflags at build time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)
