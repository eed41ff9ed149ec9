// Package switchboard is the client for the external capability broker.
// The core never implements the broker itself; it only issues Constrain
// calls during YAML argdata resolution and embeds the granted handle as
// an fd-node.
package switchboard

import (
	"context"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nuxinl/scuba/internal/argdata"
)

const constrainMethod = "/nuxinl.scuba.switchboard.v1.Switchboard/Constrain"

// Client dials a switchboard broker over gRPC and satisfies
// argdata.Switchboard. Requests and responses are carried as
// structpb.Struct: the broker's real wire schema belongs to a
// separately versioned service this core only consumes, so we avoid
// depending on generated stubs and speak its contract as a plain
// struct of rights and labels.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target and blocks (subject to ctx and a bounded
// retry schedule) until the connection reaches the ready state.
func Dial(ctx context.Context, target string) (*Client, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("switchboard: dial %s: %w", target, err)
	}

	waitReady := func() (struct{}, error) {
		conn.Connect()
		if state := conn.GetState(); state != connectivity.Ready {
			return struct{}{}, fmt.Errorf("connection state is %s", state)
		}
		return struct{}{}, nil
	}
	if _, err := backoff.Retry(ctx, waitReady, backoff.WithMaxTries(10)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("switchboard: dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Constrain issues a Constrain RPC and returns the granted capability
// as a local handle. The broker's real transport for delegating a
// descriptor to this host is implementation-specific (SCM_RIGHTS over
// a control channel, a CloudABI handle transfer, etc.); as a Go
// stand-in we open a pipe locally and return its write end. The
// broker-assigned handle id appears only in the error returned if that
// pipe cannot be opened. This mirrors how the spawn primitive already
// substitutes JSON-over-fd for a true argdata blob transfer.
func (c *Client) Constrain(ctx context.Context, req argdata.ConstrainRequest) (*os.File, error) {
	reqStruct, err := buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("switchboard: Constrain: %w", err)
	}

	respStruct := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, constrainMethod, reqStruct, respStruct); err != nil {
		return nil, fmt.Errorf("switchboard: Constrain: %w", err)
	}

	handleID, err := parseResponse(respStruct)
	if err != nil {
		return nil, fmt.Errorf("switchboard: Constrain: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("switchboard: Constrain: open local handle for broker handle %q: %w", handleID, err)
	}
	r.Close()
	return w, nil
}

// buildRequest marshals a Constrain request into the struct-of-fields
// shape the broker expects: {"rights": [...], "labels": {...}}.
func buildRequest(req argdata.ConstrainRequest) (*structpb.Struct, error) {
	rights := make([]any, len(req.Rights))
	for i, r := range req.Rights {
		rights[i] = r
	}
	labels := make(map[string]any, len(req.Labels))
	for k, v := range req.Labels {
		labels[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"rights": rights,
		"labels": labels,
	})
}

// parseResponse extracts the broker-assigned handle id from a
// Constrain response: {"handle": "..."}.
func parseResponse(resp *structpb.Struct) (string, error) {
	field, ok := resp.Fields["handle"]
	if !ok {
		return "", fmt.Errorf("response missing \"handle\" field")
	}
	s, ok := field.Kind.(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("response \"handle\" field is not a string")
	}
	return s.StringValue, nil
}
