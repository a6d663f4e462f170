// Package diskio is the driver-contract boundary between the kernel
// core's narrow Disk interfaces (internal/kernel/boot.Disk,
// internal/kernel/cfs1.Disk) and the concrete mmap-backed block device in
// internal/hostenv. Same layering rationale as internal/console: the
// kernel core never imports internal/hostenv directly.
package diskio

import (
	"log/slog"

	"github.com/doldol22312/codexos/internal/hostenv"
)

// Driver adapts a *hostenv.BlockDevice to the kernel core's disk_read/
// disk_write contract (spec §6), logging sector ranges at debug level.
type Driver struct {
	log *slog.Logger
	dev *hostenv.BlockDevice
}

// Open mmaps an existing disk image behind the driver contract.
func Open(path string) (*Driver, error) {
	dev, err := hostenv.OpenBlockDevice(path)
	if err != nil {
		return nil, err
	}
	return &Driver{log: slog.Default().With("component", "diskio", "path", path), dev: dev}, nil
}

// Create makes a new zero-filled image of the given sector count and
// opens it behind the driver contract.
func Create(path string, sectors int) (*Driver, error) {
	dev, err := hostenv.CreateBlockDevice(path, sectors)
	if err != nil {
		return nil, err
	}
	return &Driver{log: slog.Default().With("component", "diskio", "path", path), dev: dev}, nil
}

func (d *Driver) Sectors() int { return d.dev.Sectors() }

// ReadSectors implements disk_read(lba, count, buf).
func (d *Driver) ReadSectors(lba, count int, buf []byte) error {
	err := d.dev.ReadSectors(lba, count, buf)
	d.log.Debug("disk_read", "lba", lba, "count", count, "error", err)
	return err
}

// WriteSectors implements disk_write(lba, count, buf).
func (d *Driver) WriteSectors(lba, count int, buf []byte) error {
	err := d.dev.WriteSectors(lba, count, buf)
	d.log.Debug("disk_write", "lba", lba, "count", count, "error", err)
	return err
}

func (d *Driver) Sync() error  { return d.dev.Sync() }
func (d *Driver) Close() error { return d.dev.Close() }
