package boot

import "fmt"

// BootInfo is the structure Stage 2 leaves for the kernel's protected-mode
// entry (spec §4.1(a)): framebuffer geometry and its physical base, or a
// VGA-text fallback when no linear framebuffer mode was available.
type BootInfo struct {
	HasFramebuffer bool
	FBWidth        int
	FBHeight       int
	FBPitch        int
	FBPhysBase     uint32
}

// VideoProbe models the VBE query Stage 2 performs; a host collaborator
// (out of scope per spec §1) answers it. A nil VideoProbe or a failing one
// falls back to VGA text mode, matching spec §4.1(a) "falling back to VGA
// text if unavailable".
type VideoProbe interface {
	ProbeLinearFramebuffer() (width, height, pitch int, physBase uint32, ok bool)
}

// EnableA20 models the three candidate A20-enable methods (spec §4.1(b));
// the first to succeed wins. Each returns whether it believes the line is
// now enabled.
type A20Method func() (enabled bool)

// FastA20, BIOSA20, and KeyboardA20 are named to match spec §4.1(b)'s
// enumeration; in a hosted simulation all three trivially succeed since
// there is no real A20 gate to flip, but calling them in order preserves
// the "first one that succeeds" contract for tests that inject failures.
func FastA20() bool     { return true }
func BIOSA20() bool     { return true }
func KeyboardA20() bool { return true }

// EnableA20 tries methods in order, returning true as soon as one
// succeeds.
func EnableA20(methods ...A20Method) bool {
	for _, m := range methods {
		if m() {
			return true
		}
	}
	return false
}

// LoadKernel streams KernelSectors sectors starting at KernelLBA through a
// SectorSize bounce buffer into the destination slice (spec §4.1(c));
// dest must be at least KernelSectors*SectorSize bytes and conventionally
// represents the kernel image's home at KernelLoadAt.
func LoadKernel(disk Disk, meta Metadata, dest []byte) error {
	need := int(meta.KernelSectors) * SectorSize
	if len(dest) < need {
		return fmt.Errorf("boot: stage2: destination too small for %d kernel sectors", meta.KernelSectors)
	}
	bounce := make([]byte, SectorSize)
	for i := 0; i < int(meta.KernelSectors); i++ {
		if err := disk.ReadSectors(int(meta.KernelLBA)+i, 1, bounce); err != nil {
			return fmt.Errorf("boot: stage2: bounce-copy sector %d: %w", i, err)
		}
		copy(dest[i*SectorSize:(i+1)*SectorSize], bounce)
	}
	return nil
}

// Stage2 runs the full sequence: video probe (with VGA-text fallback), A20
// enable, kernel load through the bounce buffer, and BootInfo assembly. It
// never installs a GDT or flips CR0.PE itself — internal/kernel/cpu and
// internal/kernel/paging own those, invoked by the top-level Kernel during
// bring-up (spec §4.1(d)).
func Stage2(disk Disk, meta Metadata, video VideoProbe, kernelDest []byte) (BootInfo, error) {
	info := BootInfo{}
	if video != nil {
		if w, h, pitch, base, ok := video.ProbeLinearFramebuffer(); ok {
			info = BootInfo{HasFramebuffer: true, FBWidth: w, FBHeight: h, FBPitch: pitch, FBPhysBase: base}
		}
	}
	if !EnableA20(FastA20, BIOSA20, KeyboardA20) {
		return BootInfo{}, fmt.Errorf("boot: stage2: failed to enable A20")
	}
	if err := LoadKernel(disk, meta, kernelDest); err != nil {
		return BootInfo{}, err
	}
	return info, nil
}
