package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"
	"github.com/posener/complete"
)

// Context carries the resolved control-socket path into every
// subcommand's Run, the same injected-context shape cmd/sand's
// Context struct uses.
type Context struct {
	SocketPath string
	cli        *client
}

// CLI is scubactl's top-level command set: a thin client over
// scubad's control socket.
type CLI struct {
	SocketPath string `default:"/var/run/scuba/scubad.sock" help:"control socket scubad is listening on"`

	Version VersionCmd `cmd:"" help:"print scubad's runtime and API version"`
	Status  StatusCmd  `cmd:"" help:"print scubad's readiness status"`
	Ls      LsCmd      `cmd:"" help:"list pod sandboxes"`
	Ps      PsCmd      `cmd:"" help:"list containers"`
	Stop    StopCmd    `cmd:"" help:"stop a container"`
	Rm      RmCmd      `cmd:"" help:"remove a container"`
	Images  ImagesCmd  `cmd:"" help:"list local images"`
	RmImage RmImageCmd `cmd:"" help:"remove a local image"`
	Events  EventsCmd  `cmd:"" help:"list recent audited operations"`
}

const description = "scubactl: inspect and control a running scubad."

func main() {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Configuration(kongyaml.Loader, "/etc/scuba/scubactl.yaml", "~/.scuba/scubactl.yaml"),
		kong.Description(description))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scubactl: %v\n", err)
		os.Exit(1)
	}

	if err := kongcompletion.Register(parser,
		kongcompletion.WithPredictor("log-level", complete.PredictSet("debug", "info", "warn", "error")),
	); err != nil {
		fmt.Fprintf(os.Stderr, "scubactl: register completion: %v\n", err)
		os.Exit(1)
	}

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.FatalIfErrorf(err)
		return
	}

	err = kctx.Run(&Context{
		SocketPath: cli.SocketPath,
		cli:        newClient(cli.SocketPath),
	})
	kctx.FatalIfErrorf(err)
}
