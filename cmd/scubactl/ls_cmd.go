package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/nuxinl/scuba/internal/ipcproto"
	"github.com/nuxinl/scuba/internal/naming"
	"github.com/nuxinl/scuba/internal/runtime"
)

// LsCmd lists pod sandboxes.
type LsCmd struct {
	ID string `arg:"" optional:"" help:"only show the sandbox with this id"`
}

func (c *LsCmd) Run(cctx *Context) error {
	var sandboxes []runtime.SandboxInfo
	if err := cctx.cli.call(ipcproto.OpListSandboxes, nil, &sandboxes); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SANDBOX\tSTATE\tIP\tCREATED\t")
	for _, sb := range sandboxes {
		if c.ID != "" && c.ID != naming.SandboxID(sb.Metadata) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", sb.Metadata.Name, sb.State, sb.IPAddress, sb.CreatedAt)
	}
	return w.Flush()
}
