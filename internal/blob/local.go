package blob

import (
	"context"
	"errors"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// LocalDisk stores blobs as files under a root directory.
type LocalDisk struct {
	fs afero.Fs
}

// NewLocalDisk returns a disk rooted at root on the OS filesystem.
func NewLocalDisk(root string) (*LocalDisk, error) {
	osfs := afero.NewOsFs()
	if err := osfs.MkdirAll(root, 0o750); err != nil {
		return nil, storageErr("creating root", root, err)
	}
	return &LocalDisk{fs: afero.NewBasePathFs(osfs, root)}, nil
}

// NewLocalDiskFs returns a disk backed by fs, rooted at its top.
func NewLocalDiskFs(fs afero.Fs) *LocalDisk {
	return &LocalDisk{fs: fs}
}

// Name implements Disk.
func (d *LocalDisk) Name() string { return "local" }

// Put writes data through a temp file and rename, so readers never see a
// partial blob.
func (d *LocalDisk) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := d.fs.MkdirAll(path.Dir(p), 0o750); err != nil {
		return storageErr("creating directory for", p, err)
	}

	tmp := path.Join(path.Dir(p), ".tmp-"+uuid.NewString())
	if err := afero.WriteFile(d.fs, tmp, data, 0o640); err != nil {
		_ = d.fs.Remove(tmp)
		return storageErr("writing", p, err)
	}
	if err := d.fs.Rename(tmp, p); err != nil {
		_ = d.fs.Remove(tmp)
		return storageErr("renaming", p, err)
	}
	return nil
}

// Get implements Disk.
func (d *LocalDisk) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(d.fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storageErr("reading", p, ErrNotExist)
		}
		return nil, storageErr("reading", p, err)
	}
	return data, nil
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (d *LocalDisk) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := d.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr("deleting", p, err)
	}
	return nil
}

// Exists implements Disk.
func (d *LocalDisk) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(d.fs, p)
	if err != nil {
		return false, storageErr("checking", p, err)
	}
	return ok, nil
}
