// Package naming derives stable sandbox/container ids from metadata and
// composes/splits the two-part composite container id.
package naming

import (
	"fmt"
	"strings"
)

// Separator joins a pod-sandbox id and a container id into the composite
// id returned to CRI clients.
const Separator = "|"

// SandboxMetadata identifies a pod sandbox.
type SandboxMetadata struct {
	Name      string
	UID       string
	Namespace string
	Attempt   uint32
}

// ContainerMetadata identifies a container within a sandbox.
type ContainerMetadata struct {
	Name    string
	Attempt uint32
}

// SandboxID derives the internal sandbox-id string for m.
func SandboxID(m SandboxMetadata) string {
	return fmt.Sprintf("name=%s,uid=%s,namespace=%s,attempt=%d", m.Name, m.UID, m.Namespace, m.Attempt)
}

// ContainerID derives the internal container-id string for m.
func ContainerID(m ContainerMetadata) string {
	return fmt.Sprintf("name=%s,attempt=%d", m.Name, m.Attempt)
}

// Compose builds the externally visible composite container id.
func Compose(sandboxID, containerID string) string {
	return sandboxID + Separator + containerID
}

// Decompose splits s on the first Separator, returning ("", "") if none
// is present. Decompose(Compose(a, b)) == (a, b) for any a, b that do not
// themselves contain Separator.
func Decompose(s string) (sandboxID, containerID string) {
	before, after, found := strings.Cut(s, Separator)
	if !found {
		return "", ""
	}
	return before, after
}
