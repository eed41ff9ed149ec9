package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nuxinl/scuba/internal/audit"
	"github.com/nuxinl/scuba/internal/ipalloc"
	"github.com/nuxinl/scuba/internal/naming"
	"github.com/nuxinl/scuba/internal/reaper"
	"github.com/nuxinl/scuba/internal/rpcstatus"
)

func newTestService(t *testing.T, rootDir, imageDir string) *Service {
	t.Helper()
	alloc := ipalloc.New()
	if err := alloc.SetRange("10.0.0.0/24"); err != nil {
		t.Fatal(err)
	}
	return NewService(alloc, nil, reaper.New(), rootDir, imageDir, nil)
}

func TestRunPodSandboxIdempotentSameID(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	cfg := SandboxConfig{Metadata: naming.SandboxMetadata{Name: "a", UID: "u", Namespace: "n", Attempt: 0}}

	id1, err := svc.RunPodSandbox(context.Background(), cfg)
	if err != nil {
		t.Fatalf("first RunPodSandbox: %v", err)
	}
	if id1 != "name=a,uid=u,namespace=n,attempt=0" {
		t.Fatalf("id = %q", id1)
	}
	id2, err := svc.RunPodSandbox(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second RunPodSandbox: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ: %q vs %q", id1, id2)
	}
	if len(svc.ListPodSandbox(SandboxFilter{})) != 1 {
		t.Fatalf("expected exactly one sandbox after idempotent RunPodSandbox")
	}
}

func TestCompositeContainerIDScenario(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	podID, err := svc.RunPodSandbox(context.Background(), SandboxConfig{
		Metadata: naming.SandboxMetadata{Name: "a", UID: "u", Namespace: "n", Attempt: 0},
	})
	if err != nil {
		t.Fatal(err)
	}

	containerID, err := svc.CreateContainer(context.Background(), podID, ContainerConfig{
		Metadata: naming.ContainerMetadata{Name: "c", Attempt: 3},
		ArgData:  "null",
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	want := "name=a,uid=u,namespace=n,attempt=0|name=c,attempt=3"
	if containerID != want {
		t.Fatalf("composite id = %q, want %q", containerID, want)
	}
}

func TestStopPodSandboxThenCreateContainerFails(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	podID, err := svc.RunPodSandbox(context.Background(), SandboxConfig{Metadata: naming.SandboxMetadata{Name: "a"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.StopPodSandbox(context.Background(), podID); err != nil {
		t.Fatalf("StopPodSandbox: %v", err)
	}

	_, err = svc.CreateContainer(context.Background(), podID, ContainerConfig{Metadata: naming.ContainerMetadata{Name: "c"}, ArgData: "null"})
	if rpcstatus.CodeOf(err) != rpcstatus.InvalidArgument {
		t.Fatalf("CreateContainer after stop: code = %v, want INVALID_ARGUMENT", rpcstatus.CodeOf(err))
	}

	if err := svc.RemovePodSandbox(context.Background(), podID); err != nil {
		t.Fatalf("RemovePodSandbox: %v", err)
	}
	if len(svc.ListPodSandbox(SandboxFilter{})) != 0 {
		t.Fatal("sandbox still listed after RemovePodSandbox")
	}
}

func TestRemovePodSandboxReturnsLease(t *testing.T) {
	alloc := ipalloc.New()
	if err := alloc.SetRange("10.0.0.0/30"); err != nil {
		t.Fatal(err)
	}
	svc := NewService(alloc, nil, reaper.New(), t.TempDir(), t.TempDir(), nil)

	podID, err := svc.RunPodSandbox(context.Background(), SandboxConfig{Metadata: naming.SandboxMetadata{Name: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	if alloc.InUse() != 1 {
		t.Fatalf("InUse() = %d, want 1", alloc.InUse())
	}
	if err := svc.RemovePodSandbox(context.Background(), podID); err != nil {
		t.Fatal(err)
	}
	if alloc.InUse() != 0 {
		t.Fatalf("InUse() after remove = %d, want 0", alloc.InUse())
	}
}

func TestRemovePodSandboxAbsentIsNoop(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	if err := svc.RemovePodSandbox(context.Background(), "nonexistent"); err != nil {
		t.Fatalf("RemovePodSandbox(absent) = %v, want nil", err)
	}
}

func TestPodSandboxStatusNotFound(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	_, err := svc.PodSandboxStatus(context.Background(), "nonexistent")
	if rpcstatus.CodeOf(err) != rpcstatus.NotFound {
		t.Fatalf("code = %v, want NOT_FOUND", rpcstatus.CodeOf(err))
	}
}

func TestStartStopRemoveContainerLifecycle(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	rootDir := t.TempDir()
	imageDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(rootDir, "logs"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeExecutable(t, imageDir, "sha256:live", "#!/bin/sh\nsleep 30\n")

	svc := newTestService(t, rootDir, imageDir)
	podID, err := svc.RunPodSandbox(context.Background(), SandboxConfig{
		Metadata:     naming.SandboxMetadata{Name: "a", Namespace: "n"},
		LogDirectory: "/logs",
	})
	if err != nil {
		t.Fatal(err)
	}
	containerID, err := svc.CreateContainer(context.Background(), podID, ContainerConfig{
		Metadata: naming.ContainerMetadata{Name: "c"},
		Image:    "sha256:live",
		ArgData:  "null",
		LogPath:  "c.log",
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	if err := svc.StartContainer(context.Background(), containerID); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}

	status, err := svc.ContainerStatus(context.Background(), containerID)
	if err != nil {
		t.Fatalf("ContainerStatus: %v", err)
	}
	if status.State != ContainerRunning {
		t.Fatalf("state = %v, want RUNNING", status.State)
	}

	if err := svc.StopContainer(context.Background(), containerID, 0); err != nil {
		t.Fatalf("StopContainer: %v", err)
	}
	if err := svc.RemoveContainer(context.Background(), containerID); err != nil {
		t.Fatalf("RemoveContainer: %v", err)
	}
	if _, err := svc.ContainerStatus(context.Background(), containerID); rpcstatus.CodeOf(err) != rpcstatus.NotFound {
		t.Fatalf("ContainerStatus after remove: code = %v, want NOT_FOUND", rpcstatus.CodeOf(err))
	}
}

func TestStopContainerUnknownSandboxNotFound(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	err := svc.StopContainer(context.Background(), "missing-sandbox|missing-container", 0)
	if rpcstatus.CodeOf(err) != rpcstatus.NotFound {
		t.Fatalf("code = %v, want NOT_FOUND", rpcstatus.CodeOf(err))
	}
}

func TestRemoveContainerSilentOnMissingSandbox(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	if err := svc.RemoveContainer(context.Background(), "missing-sandbox|missing-container"); err != nil {
		t.Fatalf("RemoveContainer on missing sandbox = %v, want nil", err)
	}
}

func TestUpdateRuntimeConfigValidatesCIDR(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	if err := svc.UpdateRuntimeConfig(context.Background(), "10.1.0.0/24"); err != nil {
		t.Fatalf("UpdateRuntimeConfig: %v", err)
	}
	err := svc.UpdateRuntimeConfig(context.Background(), "garbage")
	if rpcstatus.CodeOf(err) != rpcstatus.InvalidArgument {
		t.Fatalf("code = %v, want INVALID_ARGUMENT", rpcstatus.CodeOf(err))
	}
}

func TestAttachAndPortForwardUnimplemented(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	if rpcstatus.CodeOf(svc.Attach()) != rpcstatus.Unimplemented {
		t.Error("Attach did not report UNIMPLEMENTED")
	}
	if rpcstatus.CodeOf(svc.PortForward()) != rpcstatus.Unimplemented {
		t.Error("PortForward did not report UNIMPLEMENTED")
	}
}

func TestVersionAndStatus(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	v := svc.Version("1.2.3")
	if v.RuntimeName != RuntimeName || v.RuntimeVersion != "1.2.3" {
		t.Errorf("Version() = %+v", v)
	}
	status := svc.Status()
	if !status.RuntimeReady || !status.NetworkReady {
		t.Errorf("Status() = %+v, want both ready", status)
	}
}

func TestListContainersFiltersAcrossSandboxes(t *testing.T) {
	svc := newTestService(t, t.TempDir(), t.TempDir())
	podA, err := svc.RunPodSandbox(context.Background(), SandboxConfig{Metadata: naming.SandboxMetadata{Name: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	podB, err := svc.RunPodSandbox(context.Background(), SandboxConfig{Metadata: naming.SandboxMetadata{Name: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateContainer(context.Background(), podA, ContainerConfig{Metadata: naming.ContainerMetadata{Name: "c1"}, Labels: map[string]string{"role": "x"}, ArgData: "null"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateContainer(context.Background(), podB, ContainerConfig{Metadata: naming.ContainerMetadata{Name: "c2"}, Labels: map[string]string{"role": "y"}, ArgData: "null"}); err != nil {
		t.Fatal(err)
	}

	all := svc.ListContainers(ListContainersFilter{})
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	onlyA := svc.ListContainers(ListContainersFilter{PodSandboxID: podA})
	if len(onlyA) != 1 || onlyA[0].Info.Metadata.Name != "c1" {
		t.Fatalf("onlyA = %+v", onlyA)
	}

	byLabel := svc.ListContainers(ListContainersFilter{Labels: map[string]string{"role": "y"}})
	if len(byLabel) != 1 || byLabel[0].Info.Metadata.Name != "c2" {
		t.Fatalf("byLabel = %+v", byLabel)
	}
}

func TestRecorderReceivesOneRowPerOperation(t *testing.T) {
	rec, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	defer rec.Close()

	alloc := ipalloc.New()
	if err := alloc.SetRange("10.0.0.0/24"); err != nil {
		t.Fatal(err)
	}
	svc := NewService(alloc, nil, reaper.New(), t.TempDir(), t.TempDir(), rec)

	podID, err := svc.RunPodSandbox(context.Background(), SandboxConfig{Metadata: naming.SandboxMetadata{Name: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PodSandboxStatus(context.Background(), "missing"); rpcstatus.CodeOf(err) != rpcstatus.NotFound {
		t.Fatalf("PodSandboxStatus(missing): code = %v, want NOT_FOUND", rpcstatus.CodeOf(err))
	}

	events, err := rec.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2: %+v", len(events), events)
	}

	byMethod := map[string]audit.Event{}
	for _, ev := range events {
		byMethod[ev.Method] = ev
	}
	run, ok := byMethod["RunPodSandbox"]
	if !ok || run.TargetID != podID || run.Code != rpcstatus.OK {
		t.Errorf("RunPodSandbox event = %+v", run)
	}
	status, ok := byMethod["PodSandboxStatus"]
	if !ok || status.TargetID != "missing" || status.Code != rpcstatus.NotFound {
		t.Errorf("PodSandboxStatus event = %+v", status)
	}
}
