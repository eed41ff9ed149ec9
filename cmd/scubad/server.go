package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/nuxinl/scuba/internal/audit"
	"github.com/nuxinl/scuba/internal/imagestore"
	"github.com/nuxinl/scuba/internal/ipcproto"
	"github.com/nuxinl/scuba/internal/runtime"
	"github.com/nuxinl/scuba/version"
)

// server dispatches ipcproto requests against a runtime.Service, the
// audit trail, and the local image store. One connection is handled
// by one goroutine; requests on a connection are processed serially.
type server struct {
	svc    *runtime.Service
	rec    *audit.Recorder
	images *imagestore.Store
}

func (s *server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := ipcproto.NewReader(conn)
	for {
		req, err := r.ReadRequest()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			slog.Error("scubad: read request", "error", err)
			return
		}

		resp := s.dispatch(ctx, req)
		if err := ipcproto.WriteResponse(conn, resp); err != nil {
			slog.Error("scubad: write response", "error", err)
			return
		}
	}
}

func (s *server) dispatch(ctx context.Context, req ipcproto.Request) ipcproto.Response {
	switch req.Op {
	case ipcproto.OpVersion:
		return ipcproto.OK(s.svc.Version(version.Get().GitCommit))

	case ipcproto.OpStatus:
		return ipcproto.OK(s.svc.Status())

	case ipcproto.OpListSandboxes:
		return ipcproto.OK(s.svc.ListPodSandbox(runtime.SandboxFilter{}))

	case ipcproto.OpListContainers:
		var args ipcproto.ListContainersArgs
		if err := unmarshalArgs(req.Args, &args); err != nil {
			return ipcproto.Err(err)
		}
		filter := runtime.ListContainersFilter{PodSandboxID: args.PodSandboxID}
		return ipcproto.OK(s.svc.ListContainers(filter))

	case ipcproto.OpStopContainer:
		var args ipcproto.StopContainerArgs
		if err := unmarshalArgs(req.Args, &args); err != nil {
			return ipcproto.Err(err)
		}
		if err := s.svc.StopContainer(ctx, args.ID, args.Timeout); err != nil {
			return ipcproto.Err(err)
		}
		return ipcproto.OK(nil)

	case ipcproto.OpRemoveContainer:
		var args ipcproto.RemoveContainerArgs
		if err := unmarshalArgs(req.Args, &args); err != nil {
			return ipcproto.Err(err)
		}
		if err := s.svc.RemoveContainer(ctx, args.ID); err != nil {
			return ipcproto.Err(err)
		}
		return ipcproto.OK(nil)

	case ipcproto.OpEvents:
		var args ipcproto.EventsArgs
		if err := unmarshalArgs(req.Args, &args); err != nil {
			return ipcproto.Err(err)
		}
		events, err := s.rec.List(ctx, args.Limit)
		if err != nil {
			return ipcproto.Err(err)
		}
		return ipcproto.OK(events)

	case ipcproto.OpListImages:
		images, err := s.images.List()
		if err != nil {
			return ipcproto.Err(err)
		}
		return ipcproto.OK(images)

	case ipcproto.OpImageStatus:
		var args ipcproto.ImageNameArgs
		if err := unmarshalArgs(req.Args, &args); err != nil {
			return ipcproto.Err(err)
		}
		img, err := s.images.Status(args.Name)
		if err != nil {
			return ipcproto.Err(err)
		}
		return ipcproto.OK(img)

	case ipcproto.OpRemoveImage:
		var args ipcproto.ImageNameArgs
		if err := unmarshalArgs(req.Args, &args); err != nil {
			return ipcproto.Err(err)
		}
		if err := s.images.Remove(args.Name); err != nil {
			return ipcproto.Err(err)
		}
		return ipcproto.OK(nil)

	case ipcproto.OpPullImage:
		var args ipcproto.PullImageArgs
		if err := unmarshalArgs(req.Args, &args); err != nil {
			return ipcproto.Err(err)
		}
		form := imagestore.PullByChecksum
		if args.Form == "url" {
			form = imagestore.PullByURL
		}
		if err := s.images.Pull(form, args.Ref); err != nil {
			return ipcproto.Err(err)
		}
		return ipcproto.OK(nil)

	default:
		return ipcproto.Err(unknownOpError(req.Op))
	}
}

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

type unknownOpError ipcproto.Op

func (e unknownOpError) Error() string {
	return "scubad: unknown op " + string(e)
}
