package commands

import (
	"fmt"
	"runtime"

	"git.home.luguber.info/inful/bootstrapd/internal/version"
)

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (v *VersionCmd) Run(g *Global, _ *CLI) error {
	fmt.Fprintf(g.Stdout, "bootstrapd %s (commit %s, built %s, %s)\n",
		version.Version, version.GitCommit, version.BuildTime, runtime.Version())
	fmt.Fprintf(g.Stdout, "resource targets: server=%s frontend=%s cli=%s\n",
		version.ServerTarget, version.FrontendTarget, version.CliTarget)
	return nil
}
