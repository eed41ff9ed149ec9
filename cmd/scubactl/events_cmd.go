package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/nuxinl/scuba/internal/audit"
	"github.com/nuxinl/scuba/internal/ipcproto"
)

const (
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiReset = "\x1b[0m"
)

// EventsCmd lists recent rows from the audit trail.
type EventsCmd struct {
	Limit int `default:"20" help:"maximum number of rows to print (0 for unlimited)"`
}

func (c *EventsCmd) Run(cctx *Context) error {
	var events []audit.Event
	args := ipcproto.EventsArgs{Limit: c.Limit}
	if err := cctx.cli.call(ipcproto.OpEvents, args, &events); err != nil {
		return err
	}

	colorize := term.IsTerminal(int(os.Stdout.Fd()))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tMETHOD\tTARGET\tSTATUS\tDURATION\t")
	for _, ev := range events {
		status := ev.Code.String()
		if colorize {
			status = colorizeStatus(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", ev.RecordedAt.Format("15:04:05"), ev.Method, ev.TargetID, status, ev.Duration)
	}
	return w.Flush()
}

func colorizeStatus(status string) string {
	if status == "OK" {
		return ansiGreen + status + ansiReset
	}
	return ansiRed + status + ansiReset
}
