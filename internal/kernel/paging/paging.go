// Package paging implements spec C4: a 2-level x86 non-PAE page table
// (1024-entry page directory of 1024-entry page tables, 4 KiB pages),
// identity-mapping the first 256 MiB and the VBE framebuffer. The TLB
// cache and page-table-walker shape are adapted from the teacher's
// internal/hv/riscv/rv64.MMU (TLBEntry array + Translate/FlushTLB), narrowed
// from Sv39's 3-level 9-bit-VPN walk down to x86's 2-level 10-bit-VPN walk
// and its PRESENT/WRITABLE/USER bit names instead of RISC-V's PTE flags.
package paging

import "fmt"

const (
	PageSize  = 4096
	PageShift = 12

	// PTE/PDE flag bits, x86 naming (not RISC-V's R/W/X/U/G/A/D layout).
	FlagPresent  = 1 << 0
	FlagWritable = 1 << 1
	FlagUser     = 1 << 2

	entriesPerTable = 1024
	dirShift        = 22
	tableShift      = 12
	indexMask       = entriesPerTable - 1
)

var (
	ErrNotMapped  = fmt.Errorf("paging: address not mapped")
	ErrOutOfPages = fmt.Errorf("paging: out of page-table frames")
)

// FrameAllocator hands out 4 KiB-aligned physical frames for new page
// tables, drawn from the statically reserved range below the heap (spec
// §4.2: "so that the heap itself is not required to map itself").
type FrameAllocator interface {
	AllocFrame() (phys uint32, ok bool)
}

// tlbEntry mirrors rv64.TLBEntry's shape (Valid/VPN/PPN/Flags) for a
// single cached translation.
type tlbEntry struct {
	valid bool
	vpn   uint32
	ppn   uint32
	flags uint32
}

// Directory is the page directory plus the frame allocator it draws
// page-table pages from, and a small direct-mapped TLB cache exercising
// the same invalidate-on-map discipline the rv64 MMU does.
type Directory struct {
	dir    [entriesPerTable]uint32 // each entry: PDE (present|writable|user|frame)
	tables map[uint32]*[entriesPerTable]uint32
	alloc  FrameAllocator

	tlb [256]tlbEntry
}

// New creates an empty page directory backed by alloc for new page-table
// frames.
func New(alloc FrameAllocator) *Directory {
	return &Directory{
		tables: make(map[uint32]*[entriesPerTable]uint32),
		alloc:  alloc,
	}
}

func pdIndex(virt uint32) uint32 { return (virt >> dirShift) & indexMask }
func ptIndex(virt uint32) uint32 { return (virt >> tableShift) & indexMask }

// Map installs a single 4 KiB mapping virt -> phys with the given flags,
// allocating a new page table on demand if the covering PDE is absent, and
// invalidates any cached TLB entry for virt (spec §4.2 "invalidating the
// TLB for that page").
func (d *Directory) Map(virt, phys, flags uint32) error {
	di := pdIndex(virt)
	pde := d.dir[di]
	var table *[entriesPerTable]uint32
	if pde&FlagPresent == 0 {
		frame, ok := d.alloc.AllocFrame()
		if !ok {
			return ErrOutOfPages
		}
		table = new([entriesPerTable]uint32)
		d.tables[frame] = table
		d.dir[di] = frame | FlagPresent | FlagWritable | (flags & FlagUser)
	} else {
		table = d.tables[pde&^(PageSize-1)]
	}
	ti := ptIndex(virt)
	table[ti] = (phys &^ (PageSize - 1)) | (flags | FlagPresent)
	d.invalidate(virt)
	return nil
}

// SetupIdentity maps [base, base+size) virt==phys with present+writable,
// in PageSize steps (spec "setup_identity(0, 256 MiB)").
func (d *Directory) SetupIdentity(base, size uint32) error {
	for off := uint32(0); off < size; off += PageSize {
		if err := d.Map(base+off, base+off, FlagPresent|FlagWritable); err != nil {
			return err
		}
	}
	return nil
}

// MapFramebuffer maps the VBE linear framebuffer at its physical base with
// the same present+writable attributes as the identity map (spec §4.2).
func (d *Directory) MapFramebuffer(physBase uint32, size uint32) error {
	for off := uint32(0); off < size; off += PageSize {
		if err := d.Map(physBase+off, physBase+off, FlagPresent|FlagWritable); err != nil {
			return err
		}
	}
	return nil
}

// Translate walks the directory (consulting the TLB cache first) and
// returns the physical address for virt, or ErrNotMapped.
func (d *Directory) Translate(virt uint32) (uint32, error) {
	phys, _, err := d.translate(virt)
	return phys, err
}

// TranslateUser behaves like Translate but additionally rejects any
// mapping lacking the FlagUser bit. Spec §4.5's user-pointer validation
// is not satisfied by "the address happens to be mapped" — the entire
// identity-mapped kernel region (heap, kernel stacks, page-table frames)
// is Present|Writable with no User bit, and a ring-3 task must fault
// trying to reach it through a syscall buffer pointer rather than have
// it silently translated and read back.
func (d *Directory) TranslateUser(virt uint32) (uint32, error) {
	phys, flags, err := d.translate(virt)
	if err != nil {
		return 0, err
	}
	if flags&FlagUser == 0 {
		return 0, ErrNotMapped
	}
	return phys, nil
}

func (d *Directory) translate(virt uint32) (phys uint32, flags uint32, err error) {
	vpn := virt >> PageShift
	idx := vpn % uint32(len(d.tlb))
	if e := d.tlb[idx]; e.valid && e.vpn == vpn {
		if e.flags&FlagPresent == 0 {
			return 0, 0, ErrNotMapped
		}
		return (e.ppn << PageShift) | (virt & (PageSize - 1)), e.flags, nil
	}

	di := pdIndex(virt)
	pde := d.dir[di]
	if pde&FlagPresent == 0 {
		return 0, 0, ErrNotMapped
	}
	table := d.tables[pde&^(PageSize-1)]
	ti := ptIndex(virt)
	pte := table[ti]
	if pte&FlagPresent == 0 {
		return 0, 0, ErrNotMapped
	}
	ppn := (pte &^ (PageSize - 1)) >> PageShift
	pflags := pte & (PageSize - 1)
	d.tlb[idx] = tlbEntry{valid: true, vpn: vpn, ppn: ppn, flags: pflags}
	return (ppn << PageShift) | (virt & (PageSize - 1)), pflags, nil
}

// invalidate drops the cached TLB entry covering virt, if any.
func (d *Directory) invalidate(virt uint32) {
	vpn := virt >> PageShift
	idx := vpn % uint32(len(d.tlb))
	if d.tlb[idx].vpn == vpn {
		d.tlb[idx].valid = false
	}
}

// FlushAll invalidates every cached TLB entry, the bulk equivalent of
// writing CR3 on a real CPU.
func (d *Directory) FlushAll() {
	for i := range d.tlb {
		d.tlb[i].valid = false
	}
}
