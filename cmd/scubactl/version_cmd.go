package main

import (
	"fmt"

	"github.com/nuxinl/scuba/internal/ipcproto"
	"github.com/nuxinl/scuba/internal/runtime"
)

// VersionCmd prints the runtime name, version, and API version scubad
// reports to the Version RPC.
type VersionCmd struct{}

func (c *VersionCmd) Run(cctx *Context) error {
	var info runtime.VersionInfo
	if err := cctx.cli.call(ipcproto.OpVersion, nil, &info); err != nil {
		return err
	}
	fmt.Printf("Runtime: %s\n", info.RuntimeName)
	fmt.Printf("Runtime Version: %s\n", info.RuntimeVersion)
	fmt.Printf("API Version: %s\n", info.APIVersion)
	return nil
}

// StatusCmd prints scubad's readiness status.
type StatusCmd struct{}

func (c *StatusCmd) Run(cctx *Context) error {
	var info runtime.StatusInfo
	if err := cctx.cli.call(ipcproto.OpStatus, nil, &info); err != nil {
		return err
	}
	fmt.Printf("Runtime Ready: %t\n", info.RuntimeReady)
	fmt.Printf("Network Ready: %t\n", info.NetworkReady)
	return nil
}
