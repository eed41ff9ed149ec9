// Package imagestore implements a flat directory of regular files
// named "sha256:" plus 64 lowercase hex digits. There is no registry
// client here — images are placed on disk by an external mechanism;
// this package only lists, inspects, and removes what's already there.
package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/nuxinl/scuba/internal/rpcstatus"
)

// NamePattern matches a valid local image name.
var NamePattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// IsLocalImage reports whether name has the shape of a local image.
func IsLocalImage(name string) bool {
	return NamePattern.MatchString(name)
}

// Image describes one entry in the store.
type Image struct {
	Name string
	Size int64
}

// Store wraps a single flat image directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// List enumerates every regular file whose name matches NamePattern.
// Entries that don't match are left alone here; internal/imagegc is
// the component that may eventually clean them up.
func (s *Store) List() ([]Image, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, rpcstatus.Internalf("imagestore: list %s: %v", s.dir, err)
	}
	var out []Image
	for _, e := range entries {
		if !NamePattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, Image{Name: e.Name(), Size: info.Size()})
	}
	return out, nil
}

// Status reports the size of a single named image.
func (s *Store) Status(name string) (Image, error) {
	if !IsLocalImage(name) {
		return Image{}, rpcstatus.InvalidArgumentf("imagestore: status: %q is not a local image name", name)
	}
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		return Image{}, rpcstatus.NotFoundf("imagestore: status: %q: %v", name, err)
	}
	if !info.Mode().IsRegular() {
		return Image{}, rpcstatus.NotFoundf("imagestore: status: %q: not a regular file", name)
	}
	return Image{Name: name, Size: info.Size()}, nil
}

// Remove unlinks name, ignoring a not-found error.
func (s *Store) Remove(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return rpcstatus.Internalf("imagestore: remove %q: %v", name, err)
	}
	return nil
}

// PullForm identifies how a client asked for an image to be fetched.
type PullForm int

const (
	PullByURL PullForm = iota
	PullByChecksum
)

// Pull always fails: by-URL pulls are unimplemented, by-checksum
// pulls are refused since images must be placed on disk manually.
func (s *Store) Pull(form PullForm, ref string) error {
	switch form {
	case PullByURL:
		return rpcstatus.Unimplementedf("imagestore: pull by URL is not implemented (%q)", ref)
	case PullByChecksum:
		return rpcstatus.InvalidArgumentf("imagestore: pull by checksum is refused; place %q manually", ref)
	default:
		return fmt.Errorf("imagestore: unknown pull form %d", form)
	}
}
