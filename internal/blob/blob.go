// Package blob stores attachment content on named disks.
package blob

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrStorage wraps any failure of the underlying disk.
	ErrStorage = errors.New("blob storage failure")

	// ErrNotExist is returned when a path holds no blob.
	ErrNotExist = errors.New("blob does not exist")
)

// Disk is a flat key/value blob store addressed by slash-separated paths.
type Disk interface {
	Name() string
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// storageErr wraps err as ErrStorage unless it already reports ErrNotExist.
func storageErr(op, path string, err error) error {
	if errors.Is(err, ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrStorage, op, path, err)
}

// cleanPath rejects absolute and parent-escaping paths.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrStorage)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: path %q escapes disk root", ErrStorage, p)
		}
	}
	return p, nil
}

// Registry resolves disks by name.
type Registry struct {
	disks       map[string]Disk
	defaultName string
}

// NewRegistry returns a registry whose default disk is def.
func NewRegistry(def Disk, others ...Disk) *Registry {
	r := &Registry{disks: make(map[string]Disk), defaultName: def.Name()}
	r.disks[def.Name()] = def
	for _, d := range others {
		r.disks[d.Name()] = d
	}
	return r
}

// Default returns the disk new blobs are written to.
func (r *Registry) Default() Disk {
	return r.disks[r.defaultName]
}

// Disk returns the disk called name.
func (r *Registry) Disk(name string) (Disk, error) {
	d, ok := r.disks[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown disk %q", ErrStorage, name)
	}
	return d, nil
}

// Names lists the registered disk names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.disks))
	for n := range r.disks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
