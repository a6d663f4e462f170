// Package kernel wires every subsystem in internal/kernel/* into the
// single Kernel singleton spec §9 describes ("construct once at boot,
// never torn down"): boot metadata parsing, paging bring-up, the heap
// pool, the interrupt/timer chain, the scheduler, the syscall gate, and
// the CFS1 filesystem. It is the hosted-harness stand-in for the real
// bootstrap's protected-mode entry point (SPEC_FULL.md §0).
package kernel

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/doldol22312/codexos/internal/config"
	"github.com/doldol22312/codexos/internal/console"
	"github.com/doldol22312/codexos/internal/diskio"
	"github.com/doldol22312/codexos/internal/hostenv"
	"github.com/doldol22312/codexos/internal/kernel/boot"
	"github.com/doldol22312/codexos/internal/kernel/cfs1"
	"github.com/doldol22312/codexos/internal/kernel/cpu"
	"github.com/doldol22312/codexos/internal/kernel/elf"
	"github.com/doldol22312/codexos/internal/kernel/heapalloc"
	"github.com/doldol22312/codexos/internal/kernel/irq"
	"github.com/doldol22312/codexos/internal/kernel/ksync"
	"github.com/doldol22312/codexos/internal/kernel/paging"
	"github.com/doldol22312/codexos/internal/kernel/syscall"
	"github.com/doldol22312/codexos/internal/kernel/task"
	"github.com/doldol22312/codexos/internal/klog"
)

// Reserved physical ranges above the identity map (spec §4.2 leaves page-
// table and user-segment frame budgets as bring-up choices): one region
// backs new page-table frames as Directory.Map grows the tree, a second
// backs ELF PT_LOAD segment data. Both are bump-allocated and never freed,
// matching the "never torn down" single-phase bring-up of spec §9.
const (
	ptFrameBudget   = 1 << 20 // 1 MiB of page-table metadata frames
	userFrameBudget = 4 << 20 // 4 MiB of user program data frames
)

// userStackTop and kernelStackStride give each task a distinct slice of
// the ring-0 stack region the TSS's esp0 is drawn from on dispatch (spec
// §4.5); a real kernel gives each task its own dedicated kernel stack
// page(s), which this constant approximates.
const (
	userStackTop       = 0x0009_F000
	kernelStackStride  = 0x1000
)

// Kernel is the fully wired bring-up state: every subsystem singleton
// plus the boot-time BootInfo video/A20 handshake result.
type Kernel struct {
	cfg config.Config

	disk       *diskio.Driver
	console    *console.Driver
	heap       *heapalloc.Heap
	gdt        *cpu.GDT
	pages      *paging.Directory
	phys       []byte
	userFrames *paging.BumpFrameAllocator
	pic        *hostenv.PIC
	pit        *hostenv.PIT
	irq        *irq.Table
	sched      *task.Scheduler
	fs         *cfs1.FS
	syscalls   *syscall.Gate
	recorder   *klog.Recorder

	bootInfo boot.BootInfo
	log      *slog.Logger
}

// memUser is the syscall.UserMemory adapter over paging: it validates a
// user buffer against the calling task's UserImage (spec §4.5
// "User-pointer validation"), translates the address through the active
// page directory requiring the FlagUser bit, and reads straight out of
// the kernel's flat physical-memory slice.
type memUser struct {
	pages *paging.Directory
	phys  []byte
}

func (m *memUser) ReadUser(img *task.UserImage, addr, length uint32) ([]byte, error) {
	if !img.Contains(addr, length) {
		return nil, fmt.Errorf("kernel: user buffer outside user_image (addr=%#x len=%d)", addr, length)
	}
	phys, err := m.pages.TranslateUser(addr)
	if err != nil {
		return nil, err
	}
	end := uint64(phys) + uint64(length)
	if end > uint64(len(m.phys)) {
		return nil, fmt.Errorf("kernel: user read past physical memory (addr=%#x len=%d)", addr, length)
	}
	return m.phys[phys : uint32(end)], nil
}

// Boot runs Stage 1/Stage 2 against diskPath+metaPath, then brings up
// paging, the heap, interrupts, the timer, the scheduler, the syscall
// gate, and mounts (or formats) CFS1 — the full spec §4.1(d)/§9 bring-up
// order.
func Boot(cfg config.Config, diskPath, metaPath string) (*Kernel, error) {
	log := slog.Default().With("component", "kernel")

	metaDisk, err := diskio.Open(metaPath)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot metadata image: %w", err)
	}
	meta, err := boot.Stage1(metaDisk)
	if err != nil {
		return nil, fmt.Errorf("kernel: stage1: %w", err)
	}

	kernelImage := make([]byte, int(meta.KernelSectors)*boot.SectorSize)
	bootInfo, err := boot.Stage2(metaDisk, meta, nil, kernelImage)
	if err != nil {
		return nil, fmt.Errorf("kernel: stage2: %w", err)
	}

	disk, err := diskio.Open(diskPath)
	if err != nil {
		return nil, fmt.Errorf("kernel: disk image: %w", err)
	}

	heap, err := heapalloc.New(int(cfg.Heap))
	if err != nil {
		return nil, fmt.Errorf("kernel: heap: %w", err)
	}

	phys := make([]byte, uint64(cfg.IdentityMapBytes)+ptFrameBudget+userFrameBudget)
	ptAlloc := paging.NewBumpFrameAllocator(cfg.IdentityMapBytes, ptFrameBudget)
	pages := paging.New(ptAlloc)
	if err := pages.SetupIdentity(0, cfg.IdentityMapBytes); err != nil {
		return nil, fmt.Errorf("kernel: identity map: %w", err)
	}
	if bootInfo.HasFramebuffer {
		fbSize := uint32(bootInfo.FBPitch * bootInfo.FBHeight)
		if err := pages.MapFramebuffer(bootInfo.FBPhysBase, fbSize); err != nil {
			return nil, fmt.Errorf("kernel: framebuffer map: %w", err)
		}
	}
	userFrames := paging.NewBumpFrameAllocator(cfg.IdentityMapBytes+ptFrameBudget, userFrameBudget)

	gdt := cpu.New()

	pic := hostenv.NewPIC()
	pit := hostenv.NewPIT(hostenv.IRQLineFunc(nil))
	if err := pit.ProgramFrequency(cfg.TicksPerSecond); err != nil {
		return nil, fmt.Errorf("kernel: program PIT: %w", err)
	}

	irqTable, err := irq.New(pic)
	if err != nil {
		return nil, fmt.Errorf("kernel: irq: %w", err)
	}

	sched := task.New(int(cfg.QuantumTicks))
	irqTable.Install(irq.IRQBase+0, func(vector uint8, errCode uint32) {
		sched.OnTick()
	})
	sched.OnDispatch(func(id int) {
		gdt.SetKernelStack(userStackTop - uint32(id)*kernelStackStride)
	})

	fs, err := cfs1.Mount(disk)
	if err != nil {
		fs, err = cfs1.Format(disk, cfg.DirSectors)
		if err != nil {
			return nil, fmt.Errorf("kernel: cfs1: %w", err)
		}
	}

	consoleDrv := console.New(cfg.ConsoleCols, cfg.ConsoleRows)
	mem := &memUser{pages: pages, phys: phys}
	gate := syscall.NewGate(sched, consoleDrv, mem)

	recorder := klog.NewRecorder(256)

	k := &Kernel{
		cfg: cfg, disk: disk, console: consoleDrv, heap: heap, gdt: gdt,
		pages: pages, phys: phys, userFrames: userFrames,
		pic: pic, pit: pit, irq: irqTable, sched: sched,
		fs: fs, syscalls: gate, recorder: recorder, bootInfo: bootInfo, log: log,
	}
	recorder.Source("kernel").Notef("boot complete: heap=%d identity_map=%d ticks_hz=%d", cfg.Heap, cfg.IdentityMapBytes, cfg.TicksPerSecond)
	log.Info("kernel booted", "heap_bytes", cfg.Heap, "identity_map_bytes", cfg.IdentityMapBytes, "ticks_per_second", cfg.TicksPerSecond, "framebuffer", bootInfo.HasFramebuffer)
	return k, nil
}

// Scheduler, Syscalls, Filesystem, Console, Recorder, and BootInfo expose
// the wired singletons to cmd/codexrun and tests without reaching into
// the struct's unexported fields.
func (k *Kernel) Scheduler() *task.Scheduler { return k.sched }
func (k *Kernel) Syscalls() *syscall.Gate    { return k.syscalls }
func (k *Kernel) Filesystem() *cfs1.FS       { return k.fs }
func (k *Kernel) Console() *console.Driver   { return k.console }
func (k *Kernel) Recorder() *klog.Recorder   { return k.recorder }
func (k *Kernel) BootInfo() boot.BootInfo    { return k.bootInfo }
func (k *Kernel) Heap() *heapalloc.Heap      { return k.heap }
func (k *Kernel) Paging() *paging.Directory  { return k.pages }

// NewSpinlock and NewSemaphore build ksync primitives bound to this
// kernel's interrupt controller and scheduler, per spec C9.
func (k *Kernel) NewSpinlock() *ksync.Spinlock              { return ksync.NewSpinlock(k.irq) }
func (k *Kernel) NewSemaphore(initial int) *ksync.Semaphore { return ksync.NewSemaphore(initial, k.sched) }

// SpawnUser validates and loads a static ELF32 executable (spec C11):
// every PT_LOAD segment is mapped into the page directory at its p_vaddr
// with a freshly bump-allocated physical frame per page, file bytes are
// copied in, and the remainder up to p_memsz is left zeroed (BSS). body
// stands in for the real CPU executing from img.Entry — this harness has
// no x86 interpreter, so the caller supplies the task's observable
// behavior (its syscalls) directly, given the validated entry point.
func (k *Kernel) SpawnUser(program []byte, body func(ctx *task.Context, entry uint32)) (int, error) {
	img, err := elf.Parse(program)
	if err != nil {
		return 0, fmt.Errorf("kernel: elf: %w", err)
	}
	for _, seg := range img.Segments {
		flags := uint32(paging.FlagPresent | paging.FlagUser)
		if seg.Writable {
			flags |= paging.FlagWritable
		}
		for off := uint32(0); off < seg.MemSz; off += paging.PageSize {
			frame, ok := k.userFrames.AllocFrame()
			if !ok {
				return 0, fmt.Errorf("kernel: out of user frames loading segment at %#x", seg.VAddr)
			}
			if err := k.pages.Map(seg.VAddr+off, frame, flags); err != nil {
				return 0, fmt.Errorf("kernel: map user segment: %w", err)
			}
			switch {
			case off >= uint32(len(seg.Data)):
				// beyond p_filesz: BSS, already zero in k.phys
			case off+paging.PageSize > uint32(len(seg.Data)):
				copy(k.phys[frame:], seg.Data[off:])
			default:
				copy(k.phys[frame:frame+paging.PageSize], seg.Data[off:off+paging.PageSize])
			}
		}
	}

	img2 := *img
	userImage := &task.UserImage{Base: elf.UserBase, Size: elf.UserTop - elf.UserBase}
	return k.sched.SpawnUser(userImage, func(ctx *task.Context) {
		body(ctx, img2.Entry)
	})
}

// Close flushes and releases the backing disk image's mmap.
func (k *Kernel) Close() error {
	return k.disk.Close()
}

// Run drives the timer tick loop until ctx is cancelled, dispatching each
// pulse through the IRQ table exactly as spec §4.4's preemption model
// describes (PIT -> IRQ0 -> on_tick() -> schedule()). A panic escaping
// dispatch is spec §7's Fatal class: it is recorded to the diagnostics
// ring and returned as an error instead of crashing the host process.
func (k *Kernel) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				k.recorder.Source("panic").Notef("%v", r)
				err = fmt.Errorf("kernel: panic: %v (last events: %v)", r, k.recorder.Recent(16))
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			k.pit.Tick()
			if err := k.irq.Raise(0); err != nil {
				return fmt.Errorf("kernel: timer dispatch: %w", err)
			}
		}
	})
	return g.Wait()
}
