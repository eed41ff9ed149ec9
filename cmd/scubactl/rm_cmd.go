package main

import (
	"fmt"
	"sync"

	"github.com/nuxinl/scuba/internal/ipcproto"
)

// RmCmd removes one or more containers in parallel.
type RmCmd struct {
	ID []string `arg:"" help:"ids of the containers to remove"`
}

func (c *RmCmd) Run(cctx *Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(c.ID))

	for _, id := range c.ID {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			args := ipcproto.RemoveContainerArgs{ID: id}
			if err := cctx.cli.call(ipcproto.OpRemoveContainer, args, nil); err != nil {
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
