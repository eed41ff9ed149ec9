package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/nuxinl/scuba/internal/ipcproto"
	"github.com/nuxinl/scuba/internal/runtime"
)

// PsCmd lists containers, optionally narrowed to one pod sandbox.
type PsCmd struct {
	PodSandboxID string `help:"only show containers belonging to this sandbox"`
}

func (c *PsCmd) Run(cctx *Context) error {
	var containers []runtime.ListedContainer
	args := ipcproto.ListContainersArgs{PodSandboxID: c.PodSandboxID}
	if err := cctx.cli.call(ipcproto.OpListContainers, args, &containers); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTAINER\tSTATE\tIMAGE\tCREATED\t")
	for _, lc := range containers {
		created := humanize.Time(lc.Info.CreatedAt.Time())
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", lc.ID, lc.Info.State, lc.Info.Image, created)
	}
	return w.Flush()
}
