package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nuxinl/scuba/internal/argdata"
	"github.com/nuxinl/scuba/internal/ipalloc"
	"github.com/nuxinl/scuba/internal/isotime"
	"github.com/nuxinl/scuba/internal/naming"
	"github.com/nuxinl/scuba/internal/reaper"
)

// ErrSandboxNotReady is returned by CreateContainer and StartContainer
// once a sandbox has been stopped.
var ErrSandboxNotReady = errors.New("sandbox is not ready")

// SandboxState tracks whether a sandbox still accepts new containers.
type SandboxState int

const (
	SandboxReady SandboxState = iota
	SandboxNotReady
)

func (s SandboxState) String() string {
	if s == SandboxReady {
		return "READY"
	}
	return "NOT_READY"
}

// SandboxConfig captures a pod sandbox's immutable fields at creation
// time.
type SandboxConfig struct {
	Metadata     naming.SandboxMetadata
	LogDirectory string
	Labels       map[string]string
	Annotations  map[string]string
}

// SandboxInfo is a point-in-time snapshot of a sandbox, independent of
// its children.
type SandboxInfo struct {
	Metadata    naming.SandboxMetadata
	State       SandboxState
	CreatedAt   isotime.Timestamp
	IPAddress   string
	Labels      map[string]string
	Annotations map[string]string
}

// Sandbox is a pod sandbox: an IP lease plus a map of containers,
// guarded by a reader-writer lock. Reads take the shared
// lock; structural mutations (create/remove container, stop) take the
// exclusive lock; starting or stopping an existing child takes only
// the shared lock and relies on the child's own mutex, so sibling
// containers can start concurrently.
type Sandbox struct {
	mu sync.RWMutex

	meta        naming.SandboxMetadata
	logDir      string
	labels      map[string]string
	annotations map[string]string
	createdAt   isotime.Timestamp
	lease       *ipalloc.Lease

	state      SandboxState
	containers map[string]*Container
}

// NewSandbox builds a sandbox holding lease, in the READY state.
func NewSandbox(cfg SandboxConfig, lease *ipalloc.Lease) *Sandbox {
	return &Sandbox{
		meta:        cfg.Metadata,
		logDir:      cfg.LogDirectory,
		labels:      cfg.Labels,
		annotations: cfg.Annotations,
		createdAt:   isotime.Now(),
		lease:       lease,
		state:       SandboxReady,
		containers:  make(map[string]*Container),
	}
}

// ID returns the sandbox's internal id.
func (s *Sandbox) ID() string {
	return naming.SandboxID(s.meta)
}

// Info returns a snapshot of the sandbox itself, not its children.
func (s *Sandbox) Info() SandboxInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SandboxInfo{
		Metadata:    s.meta,
		State:       s.state,
		CreatedAt:   s.createdAt,
		IPAddress:   s.lease.Addr(),
		Labels:      s.labels,
		Annotations: s.annotations,
	}
}

// CreateContainer inserts a new container under id, idempotently.
func (s *Sandbox) CreateContainer(id string, cfg ContainerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SandboxReady {
		return ErrSandboxNotReady
	}
	if _, exists := s.containers[id]; exists {
		return nil
	}
	s.containers[id] = NewContainer(cfg)
	return nil
}

// RemoveContainer deletes id if present; no-op otherwise.
func (s *Sandbox) RemoveContainer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers, id)
}

// Container returns the child registered under id, if any.
func (s *Sandbox) Container(id string) (*Container, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[id]
	return c, ok
}

// StartContainer resolves the sandbox's log directory under rootDir
// and delegates to Container.Start.
func (s *Sandbox) StartContainer(ctx context.Context, id, rootDir, imageDir string, sb argdata.Switchboard, rp *reaper.Reaper) error {
	s.mu.RLock()
	if s.state != SandboxReady {
		s.mu.RUnlock()
		return ErrSandboxNotReady
	}
	c, ok := s.containers[id]
	pod := PodMetadata{Namespace: s.meta.Namespace, Name: s.meta.Name, Attempt: s.meta.Attempt}
	rel := strings.TrimLeft(s.logDir, "/")
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("start_container: unknown container %q", id)
	}

	logDirAbs := filepath.Join(rootDir, rel)
	dir, err := os.Open(logDirAbs)
	if err != nil {
		return fmt.Errorf("start_container: log directory: %w", err)
	}
	dir.Close()

	return c.Start(ctx, pod, rootDir, imageDir, logDirAbs, sb, rp)
}

// StopContainer sends a forced stop to id and reports whether it
// existed.
func (s *Sandbox) StopContainer(id string, timeout int64) (existed bool, err error) {
	s.mu.RLock()
	c, ok := s.containers[id]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, c.Stop(timeout)
}

// Stop force-stops every child concurrently and marks the sandbox
// NOT_READY so the orchestrator will subsequently remove it.
func (s *Sandbox) Stop(ctx context.Context) error {
	s.mu.Lock()
	children := make([]*Container, 0, len(s.containers))
	for _, c := range s.containers {
		children = append(children, c)
	}
	s.state = SandboxNotReady
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, c := range children {
		g.Go(func() error { return c.Stop(0) })
	}
	return g.Wait()
}

// Release returns the sandbox's IP lease to its allocator. Callers
// invoke this once, when the sandbox itself is removed.
func (s *Sandbox) Release() {
	s.lease.Release()
}

// ContainerFilter matches a subset of a sandbox's children by state
// and label subset.
type ContainerFilter struct {
	State  *ContainerState
	Labels map[string]string
}

// ListContainers returns the info snapshot of every child passing
// filter; callers rebuild ids from each snapshot's Metadata.
func (s *Sandbox) ListContainers(filter ContainerFilter) []ContainerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ContainerInfo
	for _, c := range s.containers {
		if c.MatchesFilter(filter.State, filter.Labels) {
			out = append(out, c.Info())
		}
	}
	return out
}
