// Package cpu models spec C3: the flat GDT (ring-0/ring-3 code+data) and
// the TSS that holds the ring-0 stack pointer used on privilege
// transitions. Real segmentation is a CPU-internal table the bootstrap
// loads once; this hosted harness represents it as a value the scheduler
// consults on every context switch to a user task, rather than encoding
// it as a literal 8-byte descriptor format (no MMU/CPU reads it as raw
// bytes here).
package cpu

// Selector indexes one GDT entry. Values match the real x86 selector
// layout (index<<3 | RPL) so syscall/ELF code that needs to reason about
// ring (selector&3) behaves identically to a real kernel's.
type Selector uint16

const (
	SelectorNull       Selector = 0x00
	SelectorKernelCode Selector = 0x08
	SelectorKernelData Selector = 0x10
	SelectorUserCode   Selector = 0x18 | 3 // RPL=3
	SelectorUserData   Selector = 0x20 | 3
	SelectorTSS        Selector = 0x28
)

// Ring reports the privilege level encoded in a selector's low 2 bits.
func (s Selector) Ring() int { return int(s & 3) }

// TSS models the task-state segment fields the kernel actually touches:
// esp0/ss0, the ring-0 stack used whenever a ring-3 task takes a syscall
// or interrupt (spec §4.2).
type TSS struct {
	ESP0 uint32
	SS0  Selector
}

// GDT is the flat descriptor table: one 4 GiB ring-0 code/data pair, one
// ring-3 pair, and a TSS descriptor (spec §4.2). Every code/data entry
// spans the full address space, so segmentation contributes nothing to
// address translation — paging (internal/kernel/paging) does all of it,
// matching how real flat-model x86 kernels use segmentation.
type GDT struct {
	TSS TSS
}

// New builds the flat GDT and an empty TSS; SetKernelStack must be called
// before the first context switch to a user task.
func New() *GDT {
	return &GDT{TSS: TSS{SS0: SelectorKernelData}}
}

// SetKernelStack installs esp0, the stack the CPU switches to when a
// ring-3 task traps into the kernel (syscall gate or hardware IRQ). The
// scheduler calls this on every dispatch to a task so esp0 always points
// at the incoming task's own kernel stack (spec §4.5 context switch).
func (g *GDT) SetKernelStack(esp0 uint32) {
	g.TSS.ESP0 = esp0
}
