// Package runtime holds the in-memory control-plane model: pod
// sandboxes and the containers they own, and the CRI dispatch surface
// built on top of them.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/nuxinl/scuba/internal/argdata"
	"github.com/nuxinl/scuba/internal/isotime"
	"github.com/nuxinl/scuba/internal/logs"
	"github.com/nuxinl/scuba/internal/naming"
	"github.com/nuxinl/scuba/internal/reaper"
	"github.com/nuxinl/scuba/internal/spawn"
)

// ContainerState is a position in the CREATED→RUNNING→EXITED chain.
type ContainerState int

const (
	ContainerCreated ContainerState = iota
	ContainerRunning
	ContainerExited
)

func (s ContainerState) String() string {
	switch s {
	case ContainerCreated:
		return "CREATED"
	case ContainerRunning:
		return "RUNNING"
	case ContainerExited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

// Mount declares one bind mount: ContainerPath is the key a YAML
// `…/mount` tag looks up, HostPath is where it lives under the
// sandbox's root directory (leading "/" stripped before joining).
type Mount struct {
	ContainerPath string
	HostPath      string
}

// ContainerConfig captures a container's immutable fields at creation
// time.
type ContainerConfig struct {
	Metadata    naming.ContainerMetadata
	Image       string
	Labels      map[string]string
	Annotations map[string]string
	Mounts      []Mount
	// ArgData is the unresolved YAML argument-data document; it is
	// parsed and run through the resolver chain only at Start time.
	ArgData string
	LogPath string
}

// PodMetadata is the subset of a pod sandbox's identity a container
// needs to populate its server-tag Constrain labels.
type PodMetadata struct {
	Namespace string
	Name      string
	Attempt   uint32
}

// ContainerInfo is a point-in-time snapshot for ListContainers /
// ContainerStatus responses.
type ContainerInfo struct {
	Metadata    naming.ContainerMetadata
	Image       string
	Labels      map[string]string
	Annotations map[string]string
	State       ContainerState
	CreatedAt   isotime.Timestamp
	StartedAt   *isotime.Timestamp
	FinishedAt  *isotime.Timestamp
	ExitCode    *int
	Signaled    bool
	Signal      int
}

// Container is a CRI container's in-memory state machine. All access
// goes through its own mutex; sandboxes never reach into a child's
// fields directly.
type Container struct {
	mu sync.Mutex

	meta        naming.ContainerMetadata
	image       string
	labels      map[string]string
	annotations map[string]string
	mounts      []Mount
	argData     string
	logPath     string

	state      ContainerState
	createdAt  isotime.Timestamp
	startedAt  isotime.Timestamp
	finishedAt isotime.Timestamp
	exitCode   int
	signaled   bool
	signal     int

	proc   *os.Process
	framer *logs.Framer
}

// NewContainer builds a container in the CREATED state.
func NewContainer(cfg ContainerConfig) *Container {
	return &Container{
		meta:        cfg.Metadata,
		image:       cfg.Image,
		labels:      cfg.Labels,
		annotations: cfg.Annotations,
		mounts:      cfg.Mounts,
		argData:     cfg.ArgData,
		logPath:     cfg.LogPath,
		state:       ContainerCreated,
		createdAt:   isotime.Now(),
	}
}

// ID returns the container's internal id.
func (c *Container) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return naming.ContainerID(c.meta)
}

// Start runs the container, idempotently: Start is a no-op unless the
// container is CREATED. imageDir and rootDir locate the
// image executable and the sandbox's mount root respectively; logDir
// is the sandbox's already-resolved, absolute log directory (the
// sandbox resolves it once and passes it down rather than each
// container re-deriving it); sb is the switchboard consulted by any
// `…/server`-tagged YAML node; rp receives the spawned process for
// reaping.
func (c *Container) Start(ctx context.Context, pod PodMetadata, rootDir, imageDir, logDir string, sb argdata.Switchboard, rp *reaper.Reaper) error {
	c.mu.Lock()
	if c.state != ContainerCreated {
		c.mu.Unlock()
		return nil
	}
	meta, image, mounts, argDataSrc, logPath := c.meta, c.image, c.mounts, c.argData, filepath.Join(logDir, c.logPath)
	c.mu.Unlock()

	execPath := filepath.Join(imageDir, image)
	execFile, err := os.Open(execPath)
	if err != nil {
		return fmt.Errorf("start container: image %q: %w", image, err)
	}
	info, err := execFile.Stat()
	execFile.Close()
	if err != nil {
		return fmt.Errorf("start container: image %q: %w", image, err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("start container: image %q: not executable", image)
	}

	logRead, logWrite, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("start container: open log pipe: %w", err)
	}
	logFile := logs.OpenLogFile(logPath)
	framer := logs.Start(logRead, logFile)

	mountMap, err := openMounts(rootDir, mounts)
	if err != nil {
		logWrite.Close()
		framer.Wait()
		return fmt.Errorf("start container: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(argDataSrc), &doc); err != nil {
		closeAll(mountMap)
		logWrite.Close()
		framer.Wait()
		return fmt.Errorf("start container: parse argument data: %w", err)
	}

	arena := argdata.NewArena()
	buildMeta := argdata.Metadata{
		Namespace:        pod.Namespace,
		PodName:          pod.Name,
		PodAttempt:       int64(pod.Attempt),
		ContainerName:    meta.Name,
		ContainerAttempt: int64(meta.Attempt),
	}
	tree, err := argdata.Build(ctx, arena, &doc, mountMap, logWrite, sb, buildMeta)
	if err != nil {
		arena.Close()
		closeAll(mountMap)
		logWrite.Close()
		framer.Wait()
		return fmt.Errorf("start container: %w", err)
	}

	proc, err := spawn.Spawn(ctx, execPath, tree)
	arena.Close() // child has inherited dups of every fd-node by now
	// Release the parent's log write end (arena.Close already did if the
	// document used it) so the framer ends once the child's copy closes.
	logWrite.Close()
	closeAll(mountMap)
	if err != nil {
		framer.Wait()
		return fmt.Errorf("start container: %w", err)
	}

	c.mu.Lock()
	if c.state != ContainerCreated {
		// Lost a race with a concurrent Start: leave the new process
		// running under the reaper (it will still be waited on and
		// logged) but don't touch already-advanced state.
		c.mu.Unlock()
		rp.Watch(proc, func(reaper.ExitInfo) {})
		return nil
	}
	c.state = ContainerRunning
	c.startedAt = isotime.Now()
	c.proc = proc
	c.framer = framer
	c.mu.Unlock()

	rp.Watch(proc, c.onExit)
	return nil
}

func openMounts(rootDir string, mounts []Mount) (argdata.Mounts, error) {
	out := make(argdata.Mounts, len(mounts))
	for _, m := range mounts {
		rel := strings.TrimLeft(m.HostPath, "/")
		dir, err := os.Open(filepath.Join(rootDir, rel))
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("open mount %q: %w", m.HostPath, err)
		}
		out[m.ContainerPath] = dir
	}
	return out, nil
}

func closeAll(mounts argdata.Mounts) {
	for _, f := range mounts {
		f.Close()
	}
}

// onExit is the reaper callback: it performs the single
// RUNNING→EXITED transition shared by both an explicit Stop and an
// unprompted child exit.
func (c *Container) onExit(info reaper.ExitInfo) {
	c.mu.Lock()
	if c.state != ContainerRunning {
		c.mu.Unlock()
		return
	}
	c.state = ContainerExited
	c.finishedAt = isotime.Now()
	c.exitCode = info.ExitCode
	c.signaled = info.Signaled
	c.signal = info.Signal
	framer := c.framer
	c.mu.Unlock()

	if framer != nil {
		framer.Wait()
	}
}

// Stop is idempotent: it only has an effect when the container is
// RUNNING, in which case it sends SIGKILL and lets onExit perform the
// state transition. timeout is accepted but unused — Stop always
// forces; a graceful-stop path is a known gap.
func (c *Container) Stop(timeout int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ContainerRunning || c.proc == nil {
		return nil
	}
	return c.proc.Signal(syscall.SIGKILL)
}

// Info returns a full point-in-time snapshot.
func (c *Container) Info() ContainerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := ContainerInfo{
		Metadata:    c.meta,
		Image:       c.image,
		Labels:      c.labels,
		Annotations: c.annotations,
		State:       c.state,
		CreatedAt:   c.createdAt,
	}
	switch c.state {
	case ContainerCreated:
	case ContainerRunning:
		started := c.startedAt
		info.StartedAt = &started
	case ContainerExited:
		started, finished, exitCode := c.startedAt, c.finishedAt, c.exitCode
		info.StartedAt = &started
		info.FinishedAt = &finished
		info.ExitCode = &exitCode
		info.Signaled = c.signaled
		info.Signal = c.signal
	default:
		panic("runtime: container in unknown state")
	}
	return info
}

// Status is an alias for Info kept for call sites that map directly
// onto the CRI ContainerStatus RPC, which asks for status rather than
// full info.
func (c *Container) Status() ContainerInfo {
	return c.Info()
}

// MatchesFilter reports whether the container passes an optional state
// filter and a label subset filter.
func (c *Container) MatchesFilter(state *ContainerState, labels map[string]string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state != nil && c.state != *state {
		return false
	}
	for k, v := range labels {
		if cv, ok := c.labels[k]; !ok || cv != v {
			return false
		}
	}
	return true
}
