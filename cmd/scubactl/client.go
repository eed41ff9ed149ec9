package main

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/nuxinl/scuba/internal/ipcproto"
)

// client is a single short-lived connection to scubad's control
// socket: dial, send one request, read one response, close.
type client struct {
	socketPath string
}

func newClient(socketPath string) *client {
	return &client{socketPath: socketPath}
}

func (c *client) call(op ipcproto.Op, args any, out any) error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("scubactl: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	req := ipcproto.Request{Op: op}
	if args != nil {
		body, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("scubactl: encode args: %w", err)
		}
		req.Args = body
	}
	if err := ipcproto.WriteRequest(conn, req); err != nil {
		return fmt.Errorf("scubactl: send request: %w", err)
	}

	resp, err := ipcproto.NewReader(conn).ReadResponse()
	if err != nil {
		return fmt.Errorf("scubactl: read response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("scubad: %s", resp.Error)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("scubactl: decode response: %w", err)
	}
	return nil
}
