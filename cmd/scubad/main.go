package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nuxinl/scuba/internal/argdata"
	"github.com/nuxinl/scuba/internal/audit"
	"github.com/nuxinl/scuba/internal/config"
	"github.com/nuxinl/scuba/internal/imagegc"
	"github.com/nuxinl/scuba/internal/imagestore"
	"github.com/nuxinl/scuba/internal/ipalloc"
	"github.com/nuxinl/scuba/internal/reaper"
	"github.com/nuxinl/scuba/internal/runtime"
	"github.com/nuxinl/scuba/internal/switchboard"
	"github.com/nuxinl/scuba/internal/telemetry"
	"github.com/nuxinl/scuba/version"
)

func main() {
	cfg, err := config.LoadDaemon(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "scubad: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("scubad exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Daemon) error {
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return fmt.Errorf("scubad: create root dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ImageDir, 0o755); err != nil {
		return fmt.Errorf("scubad: create image dir: %w", err)
	}

	alloc := ipalloc.New()
	if err := alloc.SetRange(cfg.PodCIDR); err != nil {
		return fmt.Errorf("scubad: set pod CIDR: %w", err)
	}

	rp := reaper.New()
	defer rp.Shutdown()

	var sb argdata.Switchboard
	if cfg.SwitchboardAddr != "" {
		client, err := switchboard.Dial(ctx, cfg.SwitchboardAddr)
		if err != nil {
			return fmt.Errorf("scubad: dial switchboard: %w", err)
		}
		defer client.Close()
		sb = client
	}

	rec, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		return fmt.Errorf("scubad: open audit db: %w", err)
	}
	defer rec.Close()

	gc, err := imagegc.Open(cfg.ImageGCDBPath, cfg.ImageDir, cfg.ImageGCGracePeriod)
	if err != nil {
		return fmt.Errorf("scubad: open image gc db: %w", err)
	}
	defer gc.Close()
	go sweepLoop(ctx, gc, cfg.ImageGCInterval)

	if cfg.TelemetryCollectorAddr != "" {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:   "scubad",
			CollectorAddr: cfg.TelemetryCollectorAddr,
			Insecure:      cfg.TelemetryInsecure,
		})
		if err != nil {
			return fmt.Errorf("scubad: init telemetry: %w", err)
		}
		defer shutdown(context.Background())
	}

	svc := runtime.NewService(alloc, sb, rp, cfg.RootDir, cfg.ImageDir, rec)
	images := imagestore.New(cfg.ImageDir)

	return serve(ctx, cfg.SocketPath, &server{svc: svc, rec: rec, images: images})
}

func sweepLoop(ctx context.Context, gc *imagegc.Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed, err := gc.Sweep(ctx, now); err != nil {
				slog.Error("image gc sweep failed", "error", err)
			} else if len(removed) > 0 {
				slog.Info("image gc swept stale entries", "count", len(removed))
			}
		}
	}
}

func serve(ctx context.Context, socketPath string, srv *server) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scubad: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("scubad: listen on %s: %w", socketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("scubad listening", "socket", socketPath, "version", version.Get().GitCommit)

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("scubad: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.handle(ctx, conn)
		}()
	}
}
