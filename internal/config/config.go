// Package config loads scubad's flag/file configuration and installs
// its JSON slog logger, grounded on cmd/sand/main.go's kong.Parse +
// kong.Configuration + initSlog shape.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
)

// Daemon is scubad's command-line and file configuration.
type Daemon struct {
	RootDir  string `default:"/var/lib/scuba" help:"host directory mounts and container logs resolve under"`
	ImageDir string `default:"/var/lib/scuba/images" help:"directory holding local sha256-named image executables"`
	PodCIDR  string `default:"10.32.0.0/12" help:"CIDR range sandbox IPs are leased from"`

	SwitchboardAddr string `default:"" help:"switchboard gRPC broker address; empty disables capability constraining"`

	AuditDBPath        string        `default:"/var/lib/scuba/audit.db" help:"sqlite database for the operation audit trail"`
	ImageGCDBPath      string        `default:"/var/lib/scuba/imagegc.db" help:"sqlite database tracking stale image-directory entries"`
	ImageGCGracePeriod time.Duration `default:"24h" help:"how long after a sweep first sees a non-image file the sweep removes it"`
	ImageGCInterval    time.Duration `default:"10m" help:"how often the stale-file sweep runs"`

	TelemetryCollectorAddr string `default:"" help:"OTLP/gRPC collector address; empty disables tracing export"`
	TelemetryInsecure      bool   `default:"true" help:"dial the collector without TLS"`

	SocketPath string `default:"/var/run/scuba/scubad.sock" help:"control socket scubactl connects to"`

	LogFile  string `default:"" placeholder:"<log-file-path>" help:"location of the JSON log file (leave empty for stderr)"`
	LogLevel string `default:"info" placeholder:"<debug|info|warn|error>" help:"the logging level (debug, info, warn, error)"`
}

const description = "scuba: a minimal Kubernetes CRI-speaking container runtime core."

// LoadDaemon parses CLI flags and an optional YAML config file into a
// Daemon, installing a JSON slog logger as a side effect.
func LoadDaemon(args []string) (*Daemon, error) {
	var cfg Daemon
	parser, err := kong.New(&cfg,
		kong.Configuration(kongyaml.Loader, "/etc/scuba/scubad.yaml", "~/.scuba/scubad.yaml"),
		kong.Description(description))
	if err != nil {
		return nil, fmt.Errorf("config: build parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.initSlog(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (d *Daemon) initSlog() error {
	level := parseLevel(d.LogLevel)

	w := os.Stderr
	if d.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(d.LogFile), 0o755); err != nil {
			return fmt.Errorf("config: create log directory: %w", err)
		}
		f, err := os.OpenFile(d.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("config: open log file: %w", err)
		}
		w = f
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
	slog.Info("config loaded", "root_dir", d.RootDir, "image_dir", d.ImageDir)
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
