package runtime

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/nuxinl/scuba/internal/argdata"
	"github.com/nuxinl/scuba/internal/audit"
	"github.com/nuxinl/scuba/internal/ipalloc"
	"github.com/nuxinl/scuba/internal/naming"
	"github.com/nuxinl/scuba/internal/reaper"
	"github.com/nuxinl/scuba/internal/rpcstatus"
)

// Fixed version strings reported by the Version RPC.
const (
	RuntimeName       = "scuba"
	RuntimeAPIVersion = "v1"
)

var tracer = otel.Tracer("github.com/nuxinl/scuba/internal/runtime")

// Service is the Runtime Service CRI dispatch surface: it owns the
// sandbox map and routes every RPC to the right sandbox/container.
// Service's own RWMutex guards the map; sandboxes and containers have
// their own finer-grained locks.
type Service struct {
	mu        sync.RWMutex
	sandboxes map[string]*Sandbox

	alloc       *ipalloc.Allocator
	switchboard argdata.Switchboard
	reaper      *reaper.Reaper
	rootDir     string
	imageDir    string
	recorder    *audit.Recorder
}

// NewService wires a Service against a shared IP allocator, an
// optional switchboard client, and a reaper. rootDir is the host
// directory mounts and log directories are resolved under; imageDir
// is where local image executables live. rec is an optional audit
// recorder; a nil rec means operations are traced but not persisted.
func NewService(alloc *ipalloc.Allocator, sb argdata.Switchboard, rp *reaper.Reaper, rootDir, imageDir string, rec *audit.Recorder) *Service {
	return &Service{
		sandboxes:   make(map[string]*Sandbox),
		alloc:       alloc,
		switchboard: sb,
		reaper:      rp,
		rootDir:     rootDir,
		imageDir:    imageDir,
		recorder:    rec,
	}
}

// traced opens a span named method, runs fn, and — if a recorder is
// configured — appends an audit row once fn returns. Every handler
// that can fail or touches disk/subprocess state goes through this;
// the side-effect-free read list/version/status RPCs don't bother.
func traced[T any](s *Service, ctx context.Context, method, targetID string, fn func() (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, method)
	defer span.End()

	start := time.Now()
	result, err := fn()
	if err != nil {
		span.RecordError(err)
	}

	if s.recorder != nil {
		ev := audit.Event{
			Method:     method,
			TargetID:   targetID,
			Code:       rpcstatus.CodeOf(err),
			Duration:   time.Since(start),
			RecordedAt: start,
		}
		if recErr := s.recorder.Record(ctx, ev); recErr != nil {
			span.RecordError(recErr)
		}
	}
	return result, err
}

func tracedErr(s *Service, ctx context.Context, method, targetID string, fn func() error) error {
	_, err := traced(s, ctx, method, targetID, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// VersionInfo is the response to the Version RPC.
type VersionInfo struct {
	RuntimeName    string
	RuntimeVersion string
	APIVersion     string
}

// Version returns fixed version strings.
func (s *Service) Version(runtimeVersion string) VersionInfo {
	return VersionInfo{RuntimeName: RuntimeName, RuntimeVersion: runtimeVersion, APIVersion: RuntimeAPIVersion}
}

// StatusInfo is the response to the Status RPC.
type StatusInfo struct {
	RuntimeReady bool
	NetworkReady bool
}

// Status always reports both conditions ready.
func (s *Service) Status() StatusInfo {
	return StatusInfo{RuntimeReady: true, NetworkReady: true}
}

// RunPodSandbox computes the sandbox id from metadata, idempotently
// inserting a new sandbox and leasing it an IP address.
func (s *Service) RunPodSandbox(ctx context.Context, cfg SandboxConfig) (string, error) {
	return traced(s, ctx, "RunPodSandbox", naming.SandboxID(cfg.Metadata), func() (string, error) {
		id := naming.SandboxID(cfg.Metadata)

		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.sandboxes[id]; exists {
			return id, nil
		}

		lease, err := ipalloc.Acquire(s.alloc)
		if err != nil {
			return "", rpcstatus.Internalf("RunPodSandbox: allocate IP: %v", err)
		}
		s.sandboxes[id] = NewSandbox(cfg, lease)
		return id, nil
	})
}

// StopPodSandbox forces every child to stop and marks the sandbox
// NOT_READY.
func (s *Service) StopPodSandbox(ctx context.Context, id string) error {
	return tracedErr(s, ctx, "StopPodSandbox", id, func() error {
		sb, ok := s.lookup(id)
		if !ok {
			return rpcstatus.NotFoundf("StopPodSandbox: sandbox %q", id)
		}
		if err := sb.Stop(ctx); err != nil {
			return rpcstatus.Internalf("StopPodSandbox: %v", err)
		}
		return nil
	})
}

// RemovePodSandbox erases the sandbox and returns its IP lease;
// exclusive lock, no-op if absent.
func (s *Service) RemovePodSandbox(ctx context.Context, id string) error {
	return tracedErr(s, ctx, "RemovePodSandbox", id, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		sb, ok := s.sandboxes[id]
		if !ok {
			return nil
		}
		sb.Release()
		delete(s.sandboxes, id)
		return nil
	})
}

// PodSandboxStatus snapshots a single sandbox.
func (s *Service) PodSandboxStatus(ctx context.Context, id string) (SandboxInfo, error) {
	return traced(s, ctx, "PodSandboxStatus", id, func() (SandboxInfo, error) {
		sb, ok := s.lookup(id)
		if !ok {
			return SandboxInfo{}, rpcstatus.NotFoundf("PodSandboxStatus: sandbox %q", id)
		}
		return sb.Info(), nil
	})
}

// SandboxFilter matches a subset of sandboxes by id and label subset.
type SandboxFilter struct {
	ID     string
	Labels map[string]string
}

// ListPodSandbox enumerates every sandbox passing filter. Reads
// aren't audited or traced: there is no single target id and no
// failure mode worth a row.
func (s *Service) ListPodSandbox(filter SandboxFilter) []SandboxInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SandboxInfo
	for id, sb := range s.sandboxes {
		if filter.ID != "" && filter.ID != id {
			continue
		}
		info := sb.Info()
		if !matchesLabels(info.Labels, filter.Labels) {
			continue
		}
		out = append(out, info)
	}
	return out
}

// CreateContainer composes the composite id from the pod and
// container names and dispatches to the sandbox.
func (s *Service) CreateContainer(ctx context.Context, podID string, cfg ContainerConfig) (string, error) {
	return traced(s, ctx, "CreateContainer", podID, func() (string, error) {
		sb, ok := s.lookup(podID)
		if !ok {
			return "", rpcstatus.NotFoundf("CreateContainer: sandbox %q", podID)
		}
		containerID := naming.ContainerID(cfg.Metadata)
		if err := sb.CreateContainer(containerID, cfg); err != nil {
			return "", rpcstatus.InvalidArgumentf("CreateContainer: %v", err)
		}
		return naming.Compose(podID, containerID), nil
	})
}

// StartContainer decomposes id, looks up the sandbox, and delegates.
func (s *Service) StartContainer(ctx context.Context, id string) error {
	return tracedErr(s, ctx, "StartContainer", id, func() error {
		podID, containerID := naming.Decompose(id)
		sb, ok := s.lookup(podID)
		if !ok {
			return rpcstatus.NotFoundf("StartContainer: sandbox for %q", id)
		}
		err := sb.StartContainer(ctx, containerID, s.rootDir, s.imageDir, s.switchboard, s.reaper)
		if err == nil {
			return nil
		}
		if err == ErrSandboxNotReady {
			return rpcstatus.InvalidArgumentf("StartContainer: %v", err)
		}
		return rpcstatus.Internalf("StartContainer: %v", err)
	})
}

// StopContainer decomposes id and forces the container to stop;
// shared lock.
func (s *Service) StopContainer(ctx context.Context, id string, timeout int64) error {
	return tracedErr(s, ctx, "StopContainer", id, func() error {
		podID, containerID := naming.Decompose(id)
		sb, ok := s.lookup(podID)
		if !ok {
			return rpcstatus.NotFoundf("StopContainer: sandbox for %q", id)
		}
		existed, err := sb.StopContainer(containerID, timeout)
		if !existed {
			return rpcstatus.NotFoundf("StopContainer: container %q", id)
		}
		if err != nil {
			return rpcstatus.Internalf("StopContainer: %v", err)
		}
		return nil
	})
}

// RemoveContainer decomposes id and removes the container; silently
// succeeds if the sandbox is missing.
func (s *Service) RemoveContainer(ctx context.Context, id string) error {
	return tracedErr(s, ctx, "RemoveContainer", id, func() error {
		podID, containerID := naming.Decompose(id)
		sb, ok := s.lookup(podID)
		if !ok {
			return nil
		}
		sb.RemoveContainer(containerID)
		return nil
	})
}

// ListContainersFilter matches a subset of containers across every
// sandbox.
type ListContainersFilter struct {
	ID           string
	PodSandboxID string
	State        *ContainerState
	Labels       map[string]string
}

// ListedContainer re-attaches the composite id to an info snapshot.
type ListedContainer struct {
	ID   string
	Info ContainerInfo
}

// ListContainers iterates every sandbox (optionally narrowed by
// PodSandboxID) applying filter, re-attaching composite ids on
// outputs.
func (s *Service) ListContainers(filter ListContainersFilter) []ListedContainer {
	s.mu.RLock()
	sandboxes := make(map[string]*Sandbox, len(s.sandboxes))
	for id, sb := range s.sandboxes {
		if filter.PodSandboxID != "" && filter.PodSandboxID != id {
			continue
		}
		sandboxes[id] = sb
	}
	s.mu.RUnlock()

	var out []ListedContainer
	for podID, sb := range sandboxes {
		for _, info := range sb.ListContainers(ContainerFilter{State: filter.State, Labels: filter.Labels}) {
			compositeID := naming.Compose(podID, naming.ContainerID(info.Metadata))
			if filter.ID != "" && filter.ID != compositeID {
				continue
			}
			out = append(out, ListedContainer{ID: compositeID, Info: info})
		}
	}
	return out
}

// ContainerStatus looks up both levels by id, failing NOT_FOUND at
// either.
func (s *Service) ContainerStatus(ctx context.Context, id string) (ContainerInfo, error) {
	return traced(s, ctx, "ContainerStatus", id, func() (ContainerInfo, error) {
		podID, containerID := naming.Decompose(id)
		sb, ok := s.lookup(podID)
		if !ok {
			return ContainerInfo{}, rpcstatus.NotFoundf("ContainerStatus: sandbox for %q", id)
		}
		c, ok := sb.Container(containerID)
		if !ok {
			return ContainerInfo{}, rpcstatus.NotFoundf("ContainerStatus: container %q", id)
		}
		return c.Info(), nil
	})
}

// Attach is not implemented.
func (s *Service) Attach() error {
	return rpcstatus.Unimplementedf("Attach")
}

// PortForward is not implemented.
func (s *Service) PortForward() error {
	return rpcstatus.Unimplementedf("PortForward")
}

// UpdateRuntimeConfig feeds pod_cidr to the IP allocator.
func (s *Service) UpdateRuntimeConfig(ctx context.Context, podCIDR string) error {
	return tracedErr(s, ctx, "UpdateRuntimeConfig", "", func() error {
		if err := s.alloc.SetRange(podCIDR); err != nil {
			return rpcstatus.InvalidArgumentf("UpdateRuntimeConfig: %v", err)
		}
		return nil
	})
}

func (s *Service) lookup(id string) (*Sandbox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sb, ok := s.sandboxes[id]
	return sb, ok
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if hv, ok := have[k]; !ok || hv != v {
			return false
		}
	}
	return true
}
