package argdata

import (
	"errors"
	"sync"
)

// Arena owns every Node and FD produced by a single Build call. Node
// pointers are only valid while their arena is open; callers must not
// let them escape the build scope.
type Arena struct {
	mu     sync.Mutex
	nodes  []*Node
	fds    []*FD
	closed bool
}

// NewArena returns an empty arena, ready to back one Build call.
func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) newNode(kind Kind) *Node {
	n := &Node{kind: kind}
	a.mu.Lock()
	a.nodes = append(a.nodes, n)
	a.mu.Unlock()
	return n
}

func (a *Arena) newFdNode(fd *FD) *Node {
	a.mu.Lock()
	a.fds = append(a.fds, fd)
	a.mu.Unlock()
	n := &Node{kind: KindFd, fd: fd}
	a.mu.Lock()
	a.nodes = append(a.nodes, n)
	a.mu.Unlock()
	return n
}

// FDs returns every file descriptor materialized during the build, in
// the order they were produced. The spawn primitive uses this order to
// assign ExtraFiles indices.
func (a *Arena) FDs() []*FD {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*FD, len(a.fds))
	copy(out, a.fds)
	return out
}

// Close releases every FD still owned by the arena. Safe to call more
// than once. Callers that hand an FD's *os.File off to the spawn
// primitive (via cmd.ExtraFiles) should only Close the arena after the
// child process has started and inherited the handle.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	for _, fd := range a.fds {
		if fd.File == nil {
			continue
		}
		if err := fd.File.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
