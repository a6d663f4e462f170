// Package cfs1 implements spec C12: the CFS1 filesystem — a superblock, a
// fixed directory region, and bump-only sequential extent allocation for
// file data. Grounded on the teacher's own "plain Go struct over a byte
// slice, no external DB" texture used throughout internal/devices/virtio
// for on-disk/on-wire structures; CFS1 has no teacher analogue so its
// layout follows spec §3/§4.8 directly.
package cfs1

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	SectorSize = 512

	superblockMagic = "CFS1"
	superblockLBA   = 0

	dirEntrySize = 64
	nameMaxLen   = 31 // 1..31 bytes per spec §4.8 "Name rules"

	flagInUse = 1 << 0
)

var (
	ErrNotFound      = errors.New("cfs1: not found")
	ErrAlreadyExists = errors.New("cfs1: already exists")
	ErrNameInvalid   = errors.New("cfs1: invalid name")
	ErrDiskFull      = errors.New("cfs1: disk full")
	ErrDirFull       = errors.New("cfs1: directory full")
	ErrIOError       = errors.New("cfs1: I/O error")
)

// Disk is the narrow sector-addressed device cfs1 needs; hostenv.BlockDevice
// satisfies it.
type Disk interface {
	Sectors() int
	ReadSectors(lba, count int, buf []byte) error
	WriteSectors(lba, count int, buf []byte) error
}

// Superblock mirrors the on-disk sector 0 layout (spec §3).
type Superblock struct {
	Version         uint16
	TotalSectors    uint32
	DirSectors      uint32
	DataStartSector uint32
	FileLimit       uint16
	FreeCursor      uint32
}

func (sb *Superblock) entriesPerSector() uint16 { return SectorSize / dirEntrySize }

func (sb *Superblock) marshal() []byte {
	buf := make([]byte, SectorSize)
	copy(buf[0:4], superblockMagic)
	binary.LittleEndian.PutUint16(buf[4:6], sb.Version)
	binary.LittleEndian.PutUint32(buf[6:10], sb.TotalSectors)
	binary.LittleEndian.PutUint32(buf[10:14], sb.DirSectors)
	binary.LittleEndian.PutUint32(buf[14:18], sb.DataStartSector)
	binary.LittleEndian.PutUint16(buf[18:20], sb.FileLimit)
	binary.LittleEndian.PutUint32(buf[20:24], sb.FreeCursor)
	return buf
}

func unmarshalSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < 24 || string(buf[0:4]) != superblockMagic {
		return nil, fmt.Errorf("cfs1: bad superblock magic")
	}
	return &Superblock{
		Version:         binary.LittleEndian.Uint16(buf[4:6]),
		TotalSectors:    binary.LittleEndian.Uint32(buf[6:10]),
		DirSectors:      binary.LittleEndian.Uint32(buf[10:14]),
		DataStartSector: binary.LittleEndian.Uint32(buf[14:18]),
		FileLimit:       binary.LittleEndian.Uint16(buf[18:20]),
		FreeCursor:      binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// DirEntry mirrors the on-disk 64-byte directory entry (spec §3).
type DirEntry struct {
	Name        string
	Size        uint32
	StartSector uint32
	InUse       bool
}

func marshalDirEntry(e DirEntry) []byte {
	buf := make([]byte, dirEntrySize)
	copy(buf[0:32], []byte(e.Name))
	binary.LittleEndian.PutUint32(buf[32:36], e.Size)
	binary.LittleEndian.PutUint32(buf[36:40], e.StartSector)
	if e.InUse {
		buf[40] = flagInUse
	}
	return buf
}

func unmarshalDirEntry(buf []byte) DirEntry {
	name := string(bytes.TrimRight(buf[0:32], "\x00"))
	return DirEntry{
		Name:        name,
		Size:        binary.LittleEndian.Uint32(buf[32:36]),
		StartSector: binary.LittleEndian.Uint32(buf[36:40]),
		InUse:       buf[40]&flagInUse != 0,
	}
}

// FS is the filesystem driver: all operations are synchronous and
// serialized by a single mutex-free caller discipline — the kernel
// protects every call with its own filesystem spinlock/mutex per spec §5,
// so FS itself assumes single-threaded access (mirrors how heapalloc
// itself is lock-free and is wrapped by a kernel-held spinlock instead).
type FS struct {
	disk Disk
	sb   *Superblock
}

func ceilSectors(size uint32) uint32 {
	return (size + SectorSize - 1) / SectorSize
}

func validateName(name string) error {
	if len(name) < 1 || len(name) > nameMaxLen {
		return ErrNameInvalid
	}
	for _, c := range []byte(name) {
		if c == '/' || c < 0x20 || c > 0x7E {
			return ErrNameInvalid
		}
	}
	return nil
}

// Format writes a fresh superblock and zeroes the directory region,
// choosing dirSectors/fileLimit consistently (dirSectors*512/64 entries)
// rather than the spec's two mutually-inconsistent example constants —
// see DESIGN.md's Open Question resolution.
func Format(disk Disk, dirSectors uint32) (*FS, error) {
	total := uint32(disk.Sectors())
	dataStart := 1 + dirSectors
	if dataStart >= total {
		return nil, fmt.Errorf("cfs1: disk too small for %d directory sectors", dirSectors)
	}
	sb := &Superblock{
		Version:         1,
		TotalSectors:    total,
		DirSectors:      dirSectors,
		DataStartSector: dataStart,
		FileLimit:       uint16(dirSectors) * (SectorSize / dirEntrySize),
		FreeCursor:      dataStart,
	}
	if err := disk.WriteSectors(superblockLBA, 1, sb.marshal()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	zero := make([]byte, int(dirSectors)*SectorSize)
	if err := disk.WriteSectors(1, int(dirSectors), zero); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return &FS{disk: disk, sb: sb}, nil
}

// Mount reads an existing superblock without reformatting.
func Mount(disk Disk) (*FS, error) {
	buf := make([]byte, SectorSize)
	if err := disk.ReadSectors(superblockLBA, 1, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	sb, err := unmarshalSuperblock(buf)
	if err != nil {
		return nil, err
	}
	return &FS{disk: disk, sb: sb}, nil
}

func (fs *FS) readDirEntry(slot int) (DirEntry, error) {
	buf := make([]byte, dirEntrySize)
	sector := 1 + (slot*dirEntrySize)/SectorSize
	off := (slot * dirEntrySize) % SectorSize
	secBuf := make([]byte, SectorSize)
	if err := fs.disk.ReadSectors(sector, 1, secBuf); err != nil {
		return DirEntry{}, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	copy(buf, secBuf[off:off+dirEntrySize])
	return unmarshalDirEntry(buf), nil
}

func (fs *FS) writeDirEntry(slot int, e DirEntry) error {
	sector := 1 + (slot*dirEntrySize)/SectorSize
	off := (slot * dirEntrySize) % SectorSize
	secBuf := make([]byte, SectorSize)
	if err := fs.disk.ReadSectors(sector, 1, secBuf); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	copy(secBuf[off:off+dirEntrySize], marshalDirEntry(e))
	if err := fs.disk.WriteSectors(sector, 1, secBuf); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}

func (fs *FS) findSlot(name string) (slot int, entry DirEntry, found bool) {
	for i := 0; i < int(fs.sb.FileLimit); i++ {
		e, err := fs.readDirEntry(i)
		if err != nil {
			continue
		}
		if e.InUse && e.Name == name {
			return i, e, true
		}
	}
	return 0, DirEntry{}, false
}

func (fs *FS) firstFreeSlot() (int, bool) {
	for i := 0; i < int(fs.sb.FileLimit); i++ {
		e, err := fs.readDirEntry(i)
		if err != nil {
			continue
		}
		if !e.InUse {
			return i, true
		}
	}
	return 0, false
}

// List returns every in-use directory entry.
func (fs *FS) List() ([]DirEntry, error) {
	var out []DirEntry
	for i := 0; i < int(fs.sb.FileLimit); i++ {
		e, err := fs.readDirEntry(i)
		if err != nil {
			return nil, err
		}
		if e.InUse {
			out = append(out, e)
		}
	}
	return out, nil
}

// Create writes a new file, rejecting a duplicate name, a full directory,
// or insufficient remaining sectors (spec §4.8).
func (fs *FS) Create(name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, _, found := fs.findSlot(name); found {
		return ErrAlreadyExists
	}
	slot, ok := fs.firstFreeSlot()
	if !ok {
		return ErrDirFull
	}
	need := ceilSectors(uint32(len(data)))
	if fs.sb.FreeCursor+need > fs.sb.TotalSectors {
		return ErrDiskFull
	}

	start := fs.sb.FreeCursor
	if need > 0 {
		padded := make([]byte, need*SectorSize)
		copy(padded, data)
		if err := fs.disk.WriteSectors(int(start), int(need), padded); err != nil {
			return fmt.Errorf("%w: %v", ErrIOError, err)
		}
	}
	if err := fs.writeDirEntry(slot, DirEntry{Name: name, Size: uint32(len(data)), StartSector: start, InUse: true}); err != nil {
		return err
	}
	fs.sb.FreeCursor += need
	return fs.syncSuperblock()
}

// Read looks up name and returns its content, truncated to its recorded
// size.
func (fs *FS) Read(name string) ([]byte, error) {
	_, e, found := fs.findSlot(name)
	if !found {
		return nil, ErrNotFound
	}
	need := ceilSectors(e.Size)
	buf := make([]byte, need*SectorSize)
	if need > 0 {
		if err := fs.disk.ReadSectors(int(e.StartSector), int(need), buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIOError, err)
		}
	}
	return buf[:e.Size], nil
}

// Write replaces name's content via delete-then-create (spec's chosen
// resolution of the update-in-place-vs-recreate Open Question, §9).
func (fs *FS) Write(name string, data []byte) error {
	if _, _, found := fs.findSlot(name); found {
		if err := fs.Delete(name); err != nil {
			return err
		}
	}
	return fs.Create(name, data)
}

// Delete clears the in-use flag; freed extents are not reused until
// Format (spec §4.8 "bump-only... fragmentation is accepted").
func (fs *FS) Delete(name string) error {
	slot, e, found := fs.findSlot(name)
	if !found {
		return ErrNotFound
	}
	e.InUse = false
	return fs.writeDirEntry(slot, e)
}

func (fs *FS) syncSuperblock() error {
	if err := fs.disk.WriteSectors(superblockLBA, 1, fs.sb.marshal()); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}
