package hostenv

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SectorSize is the fixed disk sector size CFS1 and the boot chain assume.
const SectorSize = 512

// BlockDevice models the host-facing disk_read/disk_write collaborator
// (spec §6) over a regular file, grounded on the teacher's anonymous-mmap
// pattern (internal/asm/amd64/exec.go) adapted to a file-backed mapping so
// writes persist to the image on disk.
type BlockDevice struct {
	f       *os.File
	data    []byte
	sectors int
}

// OpenBlockDevice mmaps path (which must already be sized to a whole
// number of sectors) read-write.
func OpenBlockDevice(path string) (*BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("hostenv: open disk image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hostenv: stat disk image: %w", err)
	}
	size := fi.Size()
	if size%SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("hostenv: disk image size %d is not sector-aligned", size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hostenv: mmap disk image: %w", err)
	}
	return &BlockDevice{f: f, data: data, sectors: int(size) / SectorSize}, nil
}

// CreateBlockDevice creates and zero-fills a new image of the given sector
// count, then opens it the same way OpenBlockDevice does.
func CreateBlockDevice(path string, sectors int) (*BlockDevice, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("hostenv: create disk image: %w", err)
	}
	if err := f.Truncate(int64(sectors) * SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("hostenv: size disk image: %w", err)
	}
	f.Close()
	return OpenBlockDevice(path)
}

func (d *BlockDevice) Sectors() int { return d.sectors }

// ReadSectors implements disk_read(lba, count, buf).
func (d *BlockDevice) ReadSectors(lba, count int, buf []byte) error {
	if lba < 0 || count < 0 || lba+count > d.sectors {
		return fmt.Errorf("hostenv: disk_read out of range (lba=%d count=%d sectors=%d)", lba, count, d.sectors)
	}
	if len(buf) < count*SectorSize {
		return fmt.Errorf("hostenv: disk_read buffer too small")
	}
	copy(buf, d.data[lba*SectorSize:(lba+count)*SectorSize])
	return nil
}

// WriteSectors implements disk_write(lba, count, buf).
func (d *BlockDevice) WriteSectors(lba, count int, buf []byte) error {
	if lba < 0 || count < 0 || lba+count > d.sectors {
		return fmt.Errorf("hostenv: disk_write out of range (lba=%d count=%d sectors=%d)", lba, count, d.sectors)
	}
	if len(buf) < count*SectorSize {
		return fmt.Errorf("hostenv: disk_write buffer too small")
	}
	copy(d.data[lba*SectorSize:(lba+count)*SectorSize], buf[:count*SectorSize])
	return nil
}

// Sync flushes the mapping to disk.
func (d *BlockDevice) Sync() error {
	return unix.Msync(d.data, unix.MS_SYNC)
}

func (d *BlockDevice) Close() error {
	err := unix.Munmap(d.data)
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	return err
}
