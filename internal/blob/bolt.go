package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var blobsBucket = []byte("Blobs")

// BoltDisk keeps blobs inside a single bbolt file.
type BoltDisk struct {
	db *bbolt.DB
}

// NewBoltDisk opens (or creates) the bbolt file at dbPath.
func NewBoltDisk(dbPath string) (*BoltDisk, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, storageErr("creating directory for", dbPath, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, storageErr("opening", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blobsBucket); err != nil {
			return fmt.Errorf("create bucket %s: %w", blobsBucket, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, storageErr("initialising", dbPath, err)
	}

	return &BoltDisk{db: db}, nil
}

// Close releases the bbolt file lock.
func (d *BoltDisk) Close() error {
	return d.db.Close()
}

// Name implements Disk.
func (d *BoltDisk) Name() string { return "bolt" }

// Put implements Disk.
func (d *BoltDisk) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	err = d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blobsBucket).Put([]byte(p), data)
	})
	if err != nil {
		return storageErr("writing", p, err)
	}
	return nil
}

// Get implements Disk.
func (d *BoltDisk) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(p))
		if v == nil {
			return ErrNotExist
		}
		// Values are only valid for the life of the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, storageErr("reading", p, err)
	}
	return out, nil
}

// Delete implements Disk.
func (d *BoltDisk) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	err = d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blobsBucket).Delete([]byte(p))
	})
	if err != nil {
		return storageErr("deleting", p, err)
	}
	return nil
}

// Exists implements Disk.
func (d *BoltDisk) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	var ok bool
	err = d.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(blobsBucket).Get([]byte(p)) != nil
		return nil
	})
	if err != nil {
		return false, storageErr("checking", p, err)
	}
	return ok, nil
}
