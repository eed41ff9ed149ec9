package main

import (
	"fmt"
	"sync"

	"github.com/nuxinl/scuba/internal/ipcproto"
)

// StopCmd stops one or more containers in parallel.
type StopCmd struct {
	ID      []string `arg:"" help:"ids of the containers to stop"`
	Timeout int64    `default:"0" help:"grace period in seconds (unused: containers stop immediately)"`
}

func (c *StopCmd) Run(cctx *Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(c.ID))

	for _, id := range c.ID {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			args := ipcproto.StopContainerArgs{ID: id, Timeout: c.Timeout}
			if err := cctx.cli.call(ipcproto.OpStopContainer, args, nil); err != nil {
				errs <- err
				return
			}
			fmt.Println(id)
		}(id)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}
	return nil
}
