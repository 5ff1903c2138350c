package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailarchive/internal/model"
)

// Open builds a registry from configuration. Every configured disk is
// registered so blobs written under an earlier default stay readable. The
// returned close func releases file-backed disks.
func Open(ctx context.Context, cfg model.StorageConfig) (*Registry, func() error, error) {
	var (
		disks   []Disk
		closers []func() error
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	local, err := NewLocalDisk(cfg.Root)
	if err != nil {
		return nil, nil, err
	}
	disks = append(disks, local)

	if cfg.BoltPath != "" {
		bolt, err := NewBoltDisk(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		disks = append(disks, bolt)
		closers = append(closers, bolt.Close)
	}

	if cfg.S3.Bucket != "" {
		s3disk, err := NewS3Disk(ctx, cfg.S3)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		disks = append(disks, s3disk)
	}

	var def Disk
	others := make([]Disk, 0, len(disks))
	for _, d := range disks {
		if d.Name() == cfg.Disk {
			def = d
			continue
		}
		others = append(others, d)
	}
	if def == nil {
		_ = closeAll()
		return nil, nil, fmt.Errorf("%w: default disk %q is not configured", ErrStorage, cfg.Disk)
	}

	return NewRegistry(def, others...), closeAll, nil
}
