package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/nuxinl/scuba/internal/imagestore"
	"github.com/nuxinl/scuba/internal/ipcproto"
)

// ImagesCmd lists local images.
type ImagesCmd struct{}

func (c *ImagesCmd) Run(cctx *Context) error {
	var images []imagestore.Image
	if err := cctx.cli.call(ipcproto.OpListImages, nil, &images); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tSIZE\t")
	for _, img := range images {
		fmt.Fprintf(w, "%s\t%s\t\n", img.Name, humanize.Bytes(uint64(img.Size)))
	}
	return w.Flush()
}

// RmImageCmd removes a local image.
type RmImageCmd struct {
	Name string `arg:"" help:"local image name (sha256:<64 hex digits>)"`
}

func (c *RmImageCmd) Run(cctx *Context) error {
	args := ipcproto.ImageNameArgs{Name: c.Name}
	if err := cctx.cli.call(ipcproto.OpRemoveImage, args, nil); err != nil {
		return err
	}
	fmt.Println(c.Name)
	return nil
}
