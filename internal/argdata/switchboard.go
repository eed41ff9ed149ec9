package argdata

import (
	"context"
	"os"
)

// RightServerStart is the single right the core ever requests from the
// switchboard during YAML resolution.
const RightServerStart = "SERVER_START"

// Predefined label keys a server-tag request always carries. User
// labels may augment this set but must not redefine any of them.
const (
	LabelNamespace        = "server_kubernetes_namespace"
	LabelPodName          = "server_kubernetes_pod_name"
	LabelPodAttempt       = "server_kubernetes_pod_attempt"
	LabelContainerName    = "server_kubernetes_container_name"
	LabelContainerAttempt = "server_kubernetes_container_attempt"
)

// ConstrainRequest narrows a handle's rights and labels before the
// switchboard delegates it to the spawned process.
type ConstrainRequest struct {
	Rights []string
	Labels map[string]string
}

// Switchboard is the capability broker the resolver calls into for
// `…/server`-tagged nodes. internal/switchboard implements this over
// gRPC; tests substitute a fake.
type Switchboard interface {
	Constrain(ctx context.Context, req ConstrainRequest) (*os.File, error)
}
