package version

// Version contains the application version information.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X git.home.luguber.info/inful/bootstrapd/internal/version.Version=v1.4.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Resource bundle versions this build expects. A bundle manifest overrides
// them; they are set by the packaging pipeline alongside Version.
var (
	ServerTarget   = "0.1.0"
	FrontendTarget = "0.1.0"
	CliTarget      = "0.1.0"
)
