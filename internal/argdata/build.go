package argdata

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Custom tags recognized by the file-descriptor handler.
const (
	TagContainerLog = "tag:nuxi.nl,2015:cloudabi/kubernetes/container_log"
	TagMount        = "tag:nuxi.nl,2015:cloudabi/kubernetes/mount"
	TagServer       = "tag:nuxi.nl,2015:cloudabi/kubernetes/server"
)

// TagError reports a node the resolver could not handle, naming the
// offending tag and its source position.
type TagError struct {
	Tag          string
	Line, Column int
	Msg          string
}

func (e *TagError) Error() string {
	return fmt.Sprintf("%d:%d: %s (tag %s)", e.Line, e.Column, e.Msg, e.Tag)
}

// Metadata supplies the five predefined labels a server-tag Constrain
// request always carries.
type Metadata struct {
	Namespace        string
	PodName          string
	PodAttempt       int64
	ContainerName    string
	ContainerAttempt int64
}

func (m Metadata) predefinedLabels() map[string]string {
	return map[string]string{
		LabelNamespace:        m.Namespace,
		LabelPodName:          m.PodName,
		LabelPodAttempt:       strconv.FormatInt(m.PodAttempt, 10),
		LabelContainerName:    m.ContainerName,
		LabelContainerAttempt: strconv.FormatInt(m.ContainerAttempt, 10),
	}
}

// Mounts maps a container-path key (as it appears in the YAML mount
// tag's scalar value) to an already-open directory handle.
type Mounts map[string]*os.File

// Build is the handler chain's entry point. It walks doc (the root of
// a parsed YAML document) and returns the resolved argument-data tree,
// backed by arena. logPipe is the write end of the container's log
// pipe, substituted in for every container_log tag.
func Build(ctx context.Context, arena *Arena, doc *yaml.Node, mounts Mounts, logPipe *os.File, sb Switchboard, meta Metadata) (*Node, error) {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) != 1 {
			return nil, &TagError{Msg: "empty YAML document"}
		}
		root = root.Content[0]
	}
	b := &builder{arena: arena, mounts: mounts, logPipe: logPipe, sb: sb, meta: meta}
	return b.build(ctx, root)
}

type builder struct {
	arena   *Arena
	mounts  Mounts
	logPipe *os.File
	sb      Switchboard
	meta    Metadata
}

func (b *builder) build(ctx context.Context, n *yaml.Node) (*Node, error) {
	switch n.Tag {
	case TagContainerLog:
		return b.buildContainerLog(n)
	case TagMount:
		return b.buildMount(n)
	case TagServer:
		return b.buildServer(ctx, n)
	}
	return b.buildCore(ctx, n)
}

// buildContainerLog handles the file-descriptor handler's first custom
// tag: any scalar so tagged resolves to the log pipe's write end,
// regardless of its literal text.
func (b *builder) buildContainerLog(n *yaml.Node) (*Node, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, tagErr(n, TagContainerLog, "container_log tag must be on a scalar")
	}
	if b.logPipe == nil {
		return nil, tagErr(n, TagContainerLog, "no log pipe available for this build")
	}
	return b.arena.newFdNode(&FD{File: b.logPipe, Source: "container_log"}), nil
}

// buildMount resolves a scalar naming a container path into the open
// directory handle the runtime registered for it.
func (b *builder) buildMount(n *yaml.Node) (*Node, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, tagErr(n, TagMount, "mount tag must be on a scalar")
	}
	f, ok := b.mounts[n.Value]
	if !ok {
		return nil, tagErr(n, TagMount, fmt.Sprintf("unknown mount %q", n.Value))
	}
	return b.arena.newFdNode(&FD{File: f, Source: "mount:" + n.Value}), nil
}

// buildServer synthesizes a Constrain request against the switchboard
// broker for a `…/server`-tagged map.
func (b *builder) buildServer(ctx context.Context, n *yaml.Node) (*Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, tagErr(n, TagServer, "server tag must be on a map")
	}
	labels := b.meta.predefinedLabels()
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode || canonicalTag(keyNode) != "str" {
			return nil, tagErr(n, TagServer, "server label keys must be strings")
		}
		if valNode.Kind != yaml.ScalarNode || canonicalTag(valNode) != "str" {
			return nil, tagErr(n, TagServer, "server label values must be strings")
		}
		if _, predefined := labels[keyNode.Value]; predefined {
			return nil, tagErr(n, TagServer, fmt.Sprintf("override predefined label %q", keyNode.Value))
		}
		labels[keyNode.Value] = valNode.Value
	}

	if b.sb == nil {
		return nil, tagErr(n, TagServer, "no switchboard available for this build")
	}
	f, err := b.sb.Constrain(ctx, ConstrainRequest{Rights: []string{RightServerStart}, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("server tag Constrain: %w", err)
	}
	return b.arena.newFdNode(&FD{File: f, Source: "server"}), nil
}

// buildCore is the fourth handler in the chain: null, bool, str, seq,
// and map nodes under their canonical core tags. Anything else falls
// through to the error handler.
func (b *builder) buildCore(ctx context.Context, n *yaml.Node) (*Node, error) {
	switch canonicalTag(n) {
	case "null":
		return b.arena.newNode(KindNull), nil
	case "bool":
		v, err := strconv.ParseBool(n.Value)
		if err != nil {
			return nil, tagErr(n, n.Tag, "malformed bool scalar")
		}
		node := b.arena.newNode(KindBool)
		node.b = v
		return node, nil
	case "str":
		node := b.arena.newNode(KindStr)
		node.s = n.Value
		return node, nil
	case "seq":
		node := b.arena.newNode(KindSeq)
		node.seq = make([]*Node, 0, len(n.Content))
		for _, child := range n.Content {
			cn, err := b.build(ctx, child)
			if err != nil {
				return nil, err
			}
			node.seq = append(node.seq, cn)
		}
		return node, nil
	case "map":
		node := b.arena.newNode(KindMap)
		for i := 0; i+1 < len(n.Content); i += 2 {
			kn, err := b.build(ctx, n.Content[i])
			if err != nil {
				return nil, err
			}
			vn, err := b.build(ctx, n.Content[i+1])
			if err != nil {
				return nil, err
			}
			node.mp = append(node.mp, MapEntry{Key: kn, Value: vn})
		}
		return node, nil
	default:
		return nil, tagErr(n, n.Tag, "unsupported scalar type")
	}
}

// canonicalTag rewrites YAML's implicit "!" and "?" tags to the core
// schema kind they resolve to. yaml.v3 already resolves
// implicit scalars/collections to !!null, !!bool, !!str, !!seq, !!map,
// !!int, !!float etc.; this maps the ones we accept down to a short
// name and leaves everything else for the caller to reject.
func canonicalTag(n *yaml.Node) string {
	switch n.ShortTag() {
	case "!!null":
		return "null"
	case "!!bool":
		return "bool"
	case "!!str":
		return "str"
	case "!!seq":
		return "seq"
	case "!!map":
		return "map"
	default:
		return ""
	}
}

func tagErr(n *yaml.Node, tag, msg string) error {
	return &TagError{Tag: tag, Line: n.Line, Column: n.Column, Msg: msg}
}
