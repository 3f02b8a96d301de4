package runner

// Build metadata, overridden at release time via
// -ldflags "-X github.com/sadewadee/source-orchestrator/runner.Version=..."
var (
	Version   = "dev"
	BuildDate = "unknown"
)
