package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/bootstrapd/cmd/bootstrapd/commands"
	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("bootstrapd"),
		kong.Description("Brings a channel from cold start to a usable state: resources, sidecar and login."),
		kong.UsageOnError(),
	)
	if err := parser.Run(commands.NewGlobal(), cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, nil).HandleError(err)
	}
}
