// Command mkimage builds a fresh CFS1 disk image and its accompanying
// boot-metadata image, formatting the filesystem and optionally staging a
// kernel binary and user programs into it. Progress is reported with the
// teacher's terminal progress bar (schollz/progressbar/v3), the same
// library internal/oci uses for blob downloads.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/doldol22312/codexos/internal/diskio"
	"github.com/doldol22312/codexos/internal/kernel/boot"
	"github.com/doldol22312/codexos/internal/kernel/cfs1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mkimage: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	diskPath := flag.String("disk", "disk.img", "Path to write the CFS1 disk image")
	metaPath := flag.String("meta", "boot.img", "Path to write the boot metadata image")
	sectors := flag.Int("sectors", 2048, "Total sectors in the disk image")
	dirSectors := flag.Uint("dir-sectors", 16, "Directory region size in sectors")
	kernelBin := flag.String("kernel", "", "Path to a kernel binary to stage at the boot metadata's kernel_lba")
	files := stringList{}
	flag.Var(&files, "put", "host_path:cfs1_name pair to write into the image (repeatable)")
	flag.Parse()

	disk, err := diskio.Create(*diskPath, *sectors)
	if err != nil {
		return fmt.Errorf("create disk image: %w", err)
	}
	defer disk.Close()

	fs, err := cfs1.Format(disk, uint32(*dirSectors))
	if err != nil {
		return fmt.Errorf("format cfs1: %w", err)
	}

	bar := progressbar.Default(int64(len(files)), "staging files")
	for _, put := range files {
		host, name, ok := splitPair(put)
		if !ok {
			return fmt.Errorf("invalid -put value %q, want host_path:cfs1_name", put)
		}
		data, err := os.ReadFile(host)
		if err != nil {
			return fmt.Errorf("read %s: %w", host, err)
		}
		if err := fs.Create(name, data); err != nil {
			return fmt.Errorf("write %s into image: %w", name, err)
		}
		_ = bar.Add(1)
	}
	bar.Close()

	metaDisk, err := diskio.Create(*metaPath, 1+32)
	if err != nil {
		return fmt.Errorf("create boot metadata image: %w", err)
	}
	defer metaDisk.Close()

	meta := boot.Metadata{Stage2LBA: 2, Stage2Sectors: 4}
	if *kernelBin != "" {
		kdata, err := os.ReadFile(*kernelBin)
		if err != nil {
			return fmt.Errorf("read kernel binary: %w", err)
		}
		kernelSectors := (len(kdata) + boot.SectorSize - 1) / boot.SectorSize
		meta.KernelLBA = meta.Stage2LBA + meta.Stage2Sectors
		meta.KernelSectors = uint16(kernelSectors)
		meta.KernelBytes = uint32(len(kdata))
		padded := make([]byte, kernelSectors*boot.SectorSize)
		copy(padded, kdata)
		if err := metaDisk.WriteSectors(int(meta.KernelLBA), kernelSectors, padded); err != nil {
			return fmt.Errorf("write kernel: %w", err)
		}
	}
	if err := metaDisk.WriteSectors(boot.MetadataLBA, 1, meta.Marshal()); err != nil {
		return fmt.Errorf("write boot metadata: %w", err)
	}

	fmt.Printf("wrote %s (%d sectors) and %s\n", *diskPath, *sectors, *metaPath)
	return nil
}

func splitPair(s string) (host, name string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// stringList implements flag.Value to collect repeated -put flags.
type stringList []string

func (l *stringList) String() string { return fmt.Sprint([]string(*l)) }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
