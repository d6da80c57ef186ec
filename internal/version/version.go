package version

// Build metadata, injected with -ldflags "-X dollarnow/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
