// Package boot implements spec C1/C2 as ordinary Go functions over a
// Machine value instead of literal 16-bit real-mode assembly (see
// SPEC_FULL.md §0): Stage 1 validates boot metadata and "loads" Stage 2;
// Stage 2 probes video, enables A20, streams the kernel image through a
// bounce buffer, and builds the bootinfo struct a real protected-mode
// entry would receive in a fixed register.
package boot

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MetadataMagic is the 4-byte magic stamped at boot LBA 1 (spec §3).
	MetadataMagic = "CDX1"

	MetadataLBA  = 1
	SectorSize   = 512
	BounceBuffer = 0x0000_9000
	KernelLoadAt = 0x0010_0000
)

// Metadata is the boot-metadata sector layout (spec §3): magic, then
// little-endian stage2_lba/sectors, kernel_lba/sectors, kernel_bytes.
type Metadata struct {
	Stage2LBA     uint16
	Stage2Sectors uint16
	KernelLBA     uint16
	KernelSectors uint16
	KernelBytes   uint32
}

// ErrBadMagic is returned by ParseMetadata when the sector does not start
// with MetadataMagic.
var ErrBadMagic = errors.New("boot: bad metadata magic")

// Marshal renders Metadata into a zero-padded 512-byte sector (spec §8
// "boot metadata round-trip").
func (m Metadata) Marshal() []byte {
	buf := make([]byte, SectorSize)
	copy(buf[0:4], MetadataMagic)
	binary.LittleEndian.PutUint16(buf[4:6], m.Stage2LBA)
	binary.LittleEndian.PutUint16(buf[6:8], m.Stage2Sectors)
	binary.LittleEndian.PutUint16(buf[8:10], m.KernelLBA)
	binary.LittleEndian.PutUint16(buf[10:12], m.KernelSectors)
	binary.LittleEndian.PutUint32(buf[12:16], m.KernelBytes)
	return buf
}

// ParseMetadata is Marshal's inverse; it is the property spec §8.1 checks
// a round-trip against.
func ParseMetadata(sector []byte) (Metadata, error) {
	if len(sector) < 16 || string(sector[0:4]) != MetadataMagic {
		return Metadata{}, ErrBadMagic
	}
	return Metadata{
		Stage2LBA:     binary.LittleEndian.Uint16(sector[4:6]),
		Stage2Sectors: binary.LittleEndian.Uint16(sector[6:8]),
		KernelLBA:     binary.LittleEndian.Uint16(sector[8:10]),
		KernelSectors: binary.LittleEndian.Uint16(sector[10:12]),
		KernelBytes:   binary.LittleEndian.Uint32(sector[12:16]),
	}, nil
}

// Disk is the narrow BIOS-disk-services stand-in Stage 1/Stage 2 read
// through (spec §6 host-facing disk_read).
type Disk interface {
	ReadSectors(lba, count int, buf []byte) error
}

// Stage1 models the MBR: read the metadata sector, validate it, and
// report where Stage 2 lives. A real Stage 1 far-jumps there directly;
// here the simulation loop reads Stage 2's bytes itself using the
// returned Metadata (spec §4.1).
func Stage1(disk Disk) (Metadata, error) {
	sector := make([]byte, SectorSize)
	if err := disk.ReadSectors(MetadataLBA, 1, sector); err != nil {
		return Metadata{}, fmt.Errorf("boot: stage1: %w", err)
	}
	meta, err := ParseMetadata(sector)
	if err != nil {
		return Metadata{}, fmt.Errorf("boot: stage1: %w", err)
	}
	return meta, nil
}
