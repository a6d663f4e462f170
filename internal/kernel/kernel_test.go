package kernel

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doldol22312/codexos/internal/config"
	"github.com/doldol22312/codexos/internal/diskio"
	"github.com/doldol22312/codexos/internal/kernel/boot"
	"github.com/doldol22312/codexos/internal/kernel/elf"
	"github.com/doldol22312/codexos/internal/kernel/syscall"
	"github.com/doldol22312/codexos/internal/kernel/task"
)

func waitForOrTimeout(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		runtime.Gosched()
	}
	return true
}

// bootFixture lays down a minimal boot-metadata image and an unformatted
// data disk, the same two files mkimage produces, and boots a Kernel
// against them with a tiny test configuration.
func bootFixture(t *testing.T) *Kernel {
	t.Helper()
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "disk.img")
	metaPath := filepath.Join(dir, "boot.img")

	metaDisk, err := diskio.Create(metaPath, 4)
	if err != nil {
		t.Fatalf("create meta image: %v", err)
	}
	meta := boot.Metadata{Stage2LBA: 2, Stage2Sectors: 1, KernelLBA: 3, KernelSectors: 0}
	if err := metaDisk.WriteSectors(boot.MetadataLBA, 1, meta.Marshal()); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	if err := metaDisk.Close(); err != nil {
		t.Fatalf("close meta image: %v", err)
	}

	if _, err := diskio.Create(diskPath, 64); err != nil {
		t.Fatalf("create disk image: %v", err)
	}

	cfg := config.Default()
	cfg.Heap = 64 * 1024
	cfg.IdentityMapBytes = 1 << 20
	cfg.TicksPerSecond = 1000
	cfg.QuantumTicks = 2
	cfg.MaxTasks = 8
	cfg.DirSectors = 1

	k, err := Boot(cfg, diskPath, metaPath)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() { k.Close() })
	return k
}

func TestBootWiresEverySubsystem(t *testing.T) {
	k := bootFixture(t)
	if k.Scheduler() == nil || k.Syscalls() == nil || k.Filesystem() == nil || k.Console() == nil || k.Recorder() == nil {
		t.Fatal("Boot left a subsystem accessor nil")
	}
	entries, err := k.Filesystem().List()
	if err != nil {
		t.Fatalf("Filesystem().List(): %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("freshly formatted filesystem has %d entries, want 0", len(entries))
	}
}

func TestBootRecordsBringUpNote(t *testing.T) {
	k := bootFixture(t)
	recent := k.Recorder().Recent(10)
	if len(recent) == 0 {
		t.Fatal("expected Boot to record at least one klog entry")
	}
	found := false
	for _, e := range recent {
		if e.Source == "kernel" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a \"kernel\" source entry recording bring-up")
	}
}

// buildMinimalELF assembles a one-segment static ELF32/EM_386/ET_EXEC image
// loadable by SpawnUser, matching the layout internal/kernel/elf parses.
func buildMinimalELF(t *testing.T) []byte {
	t.Helper()
	const ehdrSize, phdrSize = 52, 32
	code := []byte{0x90, 0x90, 0xC3}
	phoff := uint32(ehdrSize)
	segOff := uint32(ehdrSize + phdrSize)

	buf := make([]byte, segOff+uint32(len(code)))
	le := binary.LittleEndian
	copy(buf[0:4], []byte{0x7F, 'E', 'L', 'F'})
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // little-endian
	le.PutUint16(buf[16:18], 2) // ET_EXEC
	le.PutUint16(buf[18:20], 3) // EM_386
	le.PutUint32(buf[24:28], elf.UserBase)
	le.PutUint32(buf[28:32], phoff)
	le.PutUint16(buf[42:44], phdrSize)
	le.PutUint16(buf[44:46], 1)

	ph := buf[ehdrSize : ehdrSize+phdrSize]
	le.PutUint32(ph[0:4], 1) // PT_LOAD
	le.PutUint32(ph[4:8], segOff)
	le.PutUint32(ph[8:12], elf.UserBase)
	le.PutUint32(ph[16:20], uint32(len(code)))
	le.PutUint32(ph[20:24], 0x1000)
	le.PutUint32(ph[24:28], 0x5) // R+X

	copy(buf[segOff:], code)
	return buf
}

func TestSpawnUserLoadsSegmentsAndRunsBody(t *testing.T) {
	k := bootFixture(t)
	program := buildMinimalELF(t)

	var gotEntry uint32
	var ran atomic.Bool
	id, err := k.SpawnUser(program, func(ctx *task.Context, entry uint32) {
		gotEntry = entry
		ran.Store(true)
		ctx.Sleep(^uint64(0) >> 1)
	})
	if err != nil {
		t.Fatalf("SpawnUser: %v", err)
	}
	k.Scheduler().OnTick()
	if !waitForOrTimeout(ran.Load, 2*time.Second) {
		t.Fatal("spawned user task's body never ran")
	}
	if gotEntry != elf.UserBase {
		t.Fatalf("entry = %#x, want %#x", gotEntry, elf.UserBase)
	}

	phys, err := k.Paging().TranslateUser(elf.UserBase)
	if err != nil {
		t.Fatalf("TranslateUser(UserBase): %v", err)
	}
	if k.phys[phys] != 0x90 {
		t.Fatalf("mapped byte = %#x, want 0x90 (first loaded instruction)", k.phys[phys])
	}

	found := false
	for _, tk := range k.Scheduler().Snapshot() {
		if tk.ID == id {
			found = true
			if tk.Privilege != task.User {
				t.Fatalf("task %d privilege = %v, want User", id, tk.Privilege)
			}
		}
	}
	if !found {
		t.Fatalf("spawned task %d not found in scheduler snapshot", id)
	}
}

// TestSysWriteFaultsOnKernelPointer exercises the real, wired
// syscall.Gate and memUser (not a test double): a user task that hands
// write(1, ...) a pointer into the identity-mapped kernel region — valid
// physical memory, but never part of the task's own user_image and
// never FlagUser-mapped — must be rejected with EFAULT rather than have
// that memory read back to it (spec §4.5 "User-pointer validation").
func TestSysWriteFaultsOnKernelPointer(t *testing.T) {
	k := bootFixture(t)
	program := buildMinimalELF(t)

	var exitCode int
	_, err := k.SpawnUser(program, func(ctx *task.Context, entry uint32) {
		regs := &syscall.Regs{A: syscall.SysWrite, B: 1, C: 0, D: 8} // addr 0: kernel identity map
		k.Syscalls().Dispatch(ctx, regs)
	})
	if err != nil {
		t.Fatalf("SpawnUser: %v", err)
	}
	k.Scheduler().OnTick()

	exited := waitForOrTimeout(func() bool {
		for _, tk := range k.Scheduler().Snapshot() {
			if tk.ExitCode == syscall.EFAULT {
				exitCode = tk.ExitCode
				return true
			}
		}
		return false
	}, 2*time.Second)
	if !exited {
		t.Fatal("expected a user task's write() into kernel memory to exit with EFAULT")
	}
	if exitCode != syscall.EFAULT {
		t.Fatalf("exit code = %d, want %d", exitCode, syscall.EFAULT)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	k := bootFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := k.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return the context's cancellation error")
	}
}
