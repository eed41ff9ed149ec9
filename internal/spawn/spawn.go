// Package spawn is the host spawn primitive: it turns a resolved
// argument-data tree into a running child process.
//
// Go has no CloudABI-style single-argdata-blob process entry point, so
// this is a deliberate stand-in: the tree is marshaled to JSON and
// written down a dedicated pipe inherited at fd 3, and every fd-node
// in the tree is inherited as an additional file starting at fd 4,
// referenced from the JSON by its fd number. The spawned program reads
// its parameters off fd 3 instead of argv/envp.
package spawn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/nuxinl/scuba/internal/argdata"
)

// argBlobFD is the file descriptor the marshaled argument-data JSON is
// written to in the child. Embedded fd-nodes are numbered starting at
// argBlobFD+1.
const argBlobFD = 3

// jsonNode mirrors argdata.Node for wire transfer: fd-nodes become a
// plain integer descriptor number the child can open(2) against
// /proc/self/fd or use directly if the language runtime exposes raw
// fds.
type jsonNode struct {
	Kind string      `json:"kind"`
	Bool bool        `json:"bool,omitempty"`
	Str  string      `json:"str,omitempty"`
	Seq  []*jsonNode `json:"seq,omitempty"`
	Map  []jsonEntry `json:"map,omitempty"`
	Fd   *int        `json:"fd,omitempty"`
}

type jsonEntry struct {
	Key   *jsonNode `json:"key"`
	Value *jsonNode `json:"value"`
}

func toJSON(n *argdata.Node, extra *[]*os.File) *jsonNode {
	switch n.Kind() {
	case argdata.KindNull:
		return &jsonNode{Kind: "null"}
	case argdata.KindBool:
		return &jsonNode{Kind: "bool", Bool: n.Bool()}
	case argdata.KindStr:
		return &jsonNode{Kind: "str", Str: n.Str()}
	case argdata.KindSeq:
		seq := make([]*jsonNode, 0, len(n.Seq()))
		for _, c := range n.Seq() {
			seq = append(seq, toJSON(c, extra))
		}
		return &jsonNode{Kind: "seq", Seq: seq}
	case argdata.KindMap:
		entries := make([]jsonEntry, 0, len(n.Map()))
		for _, e := range n.Map() {
			entries = append(entries, jsonEntry{Key: toJSON(e.Key, extra), Value: toJSON(e.Value, extra)})
		}
		return &jsonNode{Kind: "map", Map: entries}
	case argdata.KindFd:
		*extra = append(*extra, n.FD().File)
		fdNum := argBlobFD + 1 + (len(*extra) - 1)
		return &jsonNode{Kind: "fd", Fd: &fdNum}
	default:
		panic(fmt.Sprintf("spawn: unhandled argdata kind %v", n.Kind()))
	}
}

// Spawn launches execPath as a child process with tree encoded as its
// sole argument-data blob. The returned process handle can be waited
// on (e.g. from internal/reaper) to learn its exit status; Spawn
// itself does not wait.
//
// Callers must keep tree's backing arena open until Spawn returns,
// then may close it: by then the child has inherited duplicates of
// every embedded fd via ExtraFiles.
func Spawn(ctx context.Context, execPath string, tree *argdata.Node) (*os.Process, error) {
	var extraFiles []*os.File
	payload, err := json.Marshal(toJSON(tree, &extraFiles))
	if err != nil {
		return nil, fmt.Errorf("spawn: marshal argument data: %w", err)
	}

	blobRead, blobWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: open argument-data pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, execPath)
	cmd.ExtraFiles = append([]*os.File{blobRead}, extraFiles...)

	if err := cmd.Start(); err != nil {
		blobRead.Close()
		blobWrite.Close()
		return nil, fmt.Errorf("spawn: start %s: %w", execPath, err)
	}
	blobRead.Close()

	go func() {
		defer blobWrite.Close()
		blobWrite.Write(payload)
	}()

	return cmd.Process, nil
}
