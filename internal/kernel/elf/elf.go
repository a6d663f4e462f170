// Package elf implements spec C11: a static ELF32 (i386) loader. It is the
// read-side counterpart of the ELF32 header/program-header layout the
// ELF32 writer example (other_examples, tinyrange-rtg's std-compiler
// backend) builds — same 52-byte Ehdr / 32-byte Phdr offsets, consumed
// instead of produced.
package elf

import (
	"encoding/binary"
	"fmt"
)

const (
	ehdrSize = 52
	phdrSize = 32

	elfClass32    = 1
	elfData2LSB   = 1
	etExec        = 2
	emI386        = 3
	ptLoad        = 1
	ptDynamic     = 2
	ptInterp      = 3

	// USER_BASE/USER_TOP bound the ring-3 address space (spec §4.7).
	UserBase = 0x4000_0000
	UserTop  = 0x5000_0000

	pageSize = 4096
)

var (
	ErrBadMagic      = fmt.Errorf("elf: bad magic")
	ErrBadClass      = fmt.Errorf("elf: not ELFCLASS32")
	ErrBadData       = fmt.Errorf("elf: not little-endian")
	ErrBadMachine    = fmt.Errorf("elf: e_machine != EM_386")
	ErrBadType       = fmt.Errorf("elf: not ET_EXEC")
	ErrSegmentRange  = fmt.Errorf("elf: PT_LOAD segment outside user range")
	ErrSegmentOverlap = fmt.Errorf("elf: overlapping PT_LOAD segments")
	ErrSegmentAlign  = fmt.Errorf("elf: p_vaddr not page-aligned")
	ErrFileszExceeds = fmt.Errorf("elf: p_filesz > p_memsz")
	ErrDynamic       = fmt.Errorf("elf: PT_DYNAMIC/PT_INTERP unsupported (static only)")
	ErrTruncated     = fmt.Errorf("elf: file truncated")
)

// Segment is one validated PT_LOAD segment ready to be placed in memory.
type Segment struct {
	VAddr  uint32
	Data   []byte // exactly p_filesz bytes
	MemSz  uint32 // total mapped size; MemSz-len(Data) bytes must be zeroed
	Writable bool
	Executable bool
}

// Image is a fully parsed and validated static ELF32 executable.
type Image struct {
	Entry    uint32
	Segments []Segment
}

// Parse validates an ELF32/EM_386/ET_EXEC file and returns its PT_LOAD
// segments, rejecting anything spec §4.7 lists (bad magic/class/machine,
// out-of-range or overlapping segments, unaligned p_vaddr, p_filesz >
// p_memsz, or a PT_DYNAMIC/PT_INTERP program header).
func Parse(data []byte) (*Image, error) {
	if len(data) < ehdrSize {
		return nil, ErrTruncated
	}
	if data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, ErrBadMagic
	}
	if data[4] != elfClass32 {
		return nil, ErrBadClass
	}
	if data[5] != elfData2LSB {
		return nil, ErrBadData
	}
	le := binary.LittleEndian
	etype := le.Uint16(data[16:18])
	machine := le.Uint16(data[18:20])
	entry := le.Uint32(data[24:28])
	phoff := le.Uint32(data[28:32])
	phentsize := le.Uint16(data[42:44])
	phnum := le.Uint16(data[44:46])

	if machine != emI386 {
		return nil, ErrBadMachine
	}
	if etype != etExec {
		return nil, ErrBadType
	}

	img := &Image{Entry: entry}
	var segments []Segment
	for i := uint16(0); i < phnum; i++ {
		off := int(phoff) + int(i)*int(phentsize)
		if off+phdrSize > len(data) {
			return nil, ErrTruncated
		}
		ph := data[off : off+phdrSize]
		ptype := le.Uint32(ph[0:4])
		switch ptype {
		case ptDynamic, ptInterp:
			return nil, ErrDynamic
		case ptLoad:
			seg, err := parseLoadSegment(data, ph)
			if err != nil {
				return nil, err
			}
			for _, prior := range segments {
				if rangesOverlap(prior.VAddr, prior.MemSz, seg.VAddr, seg.MemSz) {
					return nil, ErrSegmentOverlap
				}
			}
			segments = append(segments, seg)
		}
	}
	img.Segments = segments
	return img, nil
}

func parseLoadSegment(data, ph []byte) (Segment, error) {
	le := binary.LittleEndian
	flags := le.Uint32(ph[24:28])
	offset := le.Uint32(ph[4:8])
	vaddr := le.Uint32(ph[8:12])
	filesz := le.Uint32(ph[16:20])
	memsz := le.Uint32(ph[20:24])

	if vaddr%pageSize != 0 {
		return Segment{}, ErrSegmentAlign
	}
	if vaddr < UserBase || vaddr+memsz > UserTop || vaddr+memsz < vaddr {
		return Segment{}, ErrSegmentRange
	}
	if filesz > memsz {
		return Segment{}, ErrFileszExceeds
	}
	if uint64(offset)+uint64(filesz) > uint64(len(data)) {
		return Segment{}, ErrTruncated
	}
	return Segment{
		VAddr:      vaddr,
		Data:       data[offset : offset+filesz],
		MemSz:      memsz,
		Writable:   flags&2 != 0,
		Executable: flags&1 != 0,
	}, nil
}

func rangesOverlap(aStart, aLen, bStart, bLen uint32) bool {
	aEnd, bEnd := aStart+aLen, bStart+bLen
	return aStart < bEnd && bStart < aEnd
}
