package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDaemonAppliesDefaults(t *testing.T) {
	cfg, err := LoadDaemon(nil)
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if cfg.RootDir != "/var/lib/scuba" {
		t.Errorf("RootDir = %q", cfg.RootDir)
	}
	if cfg.PodCIDR != "10.32.0.0/12" {
		t.Errorf("PodCIDR = %q", cfg.PodCIDR)
	}
	if cfg.ImageGCGracePeriod != 24*time.Hour {
		t.Errorf("ImageGCGracePeriod = %v, want 24h", cfg.ImageGCGracePeriod)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadDaemonOverridesFromFlags(t *testing.T) {
	cfg, err := LoadDaemon([]string{
		"--root-dir=/tmp/scuba",
		"--pod-cidr=10.1.0.0/16",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if cfg.RootDir != "/tmp/scuba" {
		t.Errorf("RootDir = %q", cfg.RootDir)
	}
	if cfg.PodCIDR != "10.1.0.0/16" {
		t.Errorf("PodCIDR = %q", cfg.PodCIDR)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadDaemonWritesLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "scubad.log")
	_, err := LoadDaemon([]string{"--log-file=" + logPath})
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"warn":    "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"bogus":   "INFO",
		"":        "INFO",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
