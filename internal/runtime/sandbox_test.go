package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nuxinl/scuba/internal/ipalloc"
	"github.com/nuxinl/scuba/internal/naming"
	"github.com/nuxinl/scuba/internal/reaper"
)

func newTestSandbox(t *testing.T, logDir string) *Sandbox {
	t.Helper()
	alloc := ipalloc.New()
	if err := alloc.SetRange("10.0.0.0/24"); err != nil {
		t.Fatal(err)
	}
	lease, err := ipalloc.Acquire(alloc)
	if err != nil {
		t.Fatal(err)
	}
	cfg := SandboxConfig{
		Metadata:     naming.SandboxMetadata{Name: "a", UID: "u", Namespace: "n", Attempt: 0},
		LogDirectory: logDir,
	}
	return NewSandbox(cfg, lease)
}

func TestSandboxCreateContainerIdempotent(t *testing.T) {
	s := newTestSandbox(t, "/logs")
	cid := naming.ContainerID(naming.ContainerMetadata{Name: "c", Attempt: 0})

	cfg := ContainerConfig{Metadata: naming.ContainerMetadata{Name: "c"}, ArgData: "null"}
	if err := s.CreateContainer(cid, cfg); err != nil {
		t.Fatalf("first CreateContainer: %v", err)
	}
	if err := s.CreateContainer(cid, cfg); err != nil {
		t.Fatalf("second CreateContainer: %v", err)
	}
	if _, ok := s.Container(cid); !ok {
		t.Fatal("container not found after create")
	}
}

func TestSandboxCreateContainerRefusedWhenNotReady(t *testing.T) {
	s := newTestSandbox(t, "/logs")
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := s.CreateContainer("c", ContainerConfig{ArgData: "null"})
	if err != ErrSandboxNotReady {
		t.Fatalf("CreateContainer on stopped sandbox = %v, want ErrSandboxNotReady", err)
	}
}

func TestSandboxRemoveContainerNoopOnAbsent(t *testing.T) {
	s := newTestSandbox(t, "/logs")
	s.RemoveContainer("nonexistent") // must not panic
}

func TestSandboxStopSetsNotReadyAndForcesChildren(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	imageDir := t.TempDir()
	rootDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(rootDir, "logs"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeExecutable(t, imageDir, "sha256:cccc", "#!/bin/sh\nsleep 30\n")

	s := newTestSandbox(t, "/logs")
	cid := naming.ContainerID(naming.ContainerMetadata{Name: "c"})
	cfg := ContainerConfig{
		Metadata: naming.ContainerMetadata{Name: "c"},
		Image:    "sha256:cccc",
		ArgData:  "null",
		LogPath:  "c.log",
	}
	if err := s.CreateContainer(cid, cfg); err != nil {
		t.Fatal(err)
	}
	rp := reaper.New()
	if err := s.StartContainer(context.Background(), cid, rootDir, imageDir, nil, rp); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Info().State != SandboxNotReady {
		t.Fatalf("state = %v, want NOT_READY", s.Info().State)
	}

	c, _ := s.Container(cid)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && c.Info().State != ContainerExited {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Info().State != ContainerExited {
		t.Fatalf("child state = %v, want EXITED after sandbox Stop", c.Info().State)
	}
}

func TestSandboxStartContainerUnknownChildFails(t *testing.T) {
	s := newTestSandbox(t, "/logs")
	rp := reaper.New()
	err := s.StartContainer(context.Background(), "missing", t.TempDir(), t.TempDir(), nil, rp)
	if err == nil {
		t.Fatal("StartContainer succeeded for unregistered child")
	}
}

func TestSandboxStopContainerReportsExistence(t *testing.T) {
	s := newTestSandbox(t, "/logs")
	cid := naming.ContainerID(naming.ContainerMetadata{Name: "c"})
	if err := s.CreateContainer(cid, ContainerConfig{ArgData: "null"}); err != nil {
		t.Fatal(err)
	}

	existed, err := s.StopContainer(cid, 0)
	if err != nil || !existed {
		t.Fatalf("StopContainer(existing) = (%v, %v), want (true, nil)", existed, err)
	}
	existed, err = s.StopContainer("absent", 0)
	if err != nil || existed {
		t.Fatalf("StopContainer(absent) = (%v, %v), want (false, nil)", existed, err)
	}
}

func TestSandboxReleaseReturnsLease(t *testing.T) {
	alloc := ipalloc.New()
	if err := alloc.SetRange("10.0.0.0/30"); err != nil {
		t.Fatal(err)
	}
	lease, err := ipalloc.Acquire(alloc)
	if err != nil {
		t.Fatal(err)
	}
	cfg := SandboxConfig{Metadata: naming.SandboxMetadata{Name: "a"}}
	s := NewSandbox(cfg, lease)

	if alloc.InUse() != 1 {
		t.Fatalf("InUse() = %d, want 1", alloc.InUse())
	}
	s.Release()
	if alloc.InUse() != 0 {
		t.Fatalf("InUse() after Release = %d, want 0", alloc.InUse())
	}
}
