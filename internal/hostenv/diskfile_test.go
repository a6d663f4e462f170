package hostenv

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateBlockDeviceThenReopenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := CreateBlockDevice(path, 8)
	if err != nil {
		t.Fatalf("CreateBlockDevice: %v", err)
	}
	if dev.Sectors() != 8 {
		t.Fatalf("Sectors() = %d, want 8", dev.Sectors())
	}

	payload := bytes.Repeat([]byte{0xAB}, SectorSize*2)
	if err := dev.WriteSectors(3, 2, payload); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	if err := dev.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dev2, err := OpenBlockDevice(path)
	if err != nil {
		t.Fatalf("OpenBlockDevice: %v", err)
	}
	defer dev2.Close()

	got := make([]byte, SectorSize*2)
	if err := dev2.ReadSectors(3, 2, got); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("data did not survive a close/reopen round trip")
	}
}

func TestReadWriteSectorsRejectOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := CreateBlockDevice(path, 4)
	if err != nil {
		t.Fatalf("CreateBlockDevice: %v", err)
	}
	defer dev.Close()

	buf := make([]byte, SectorSize)
	if err := dev.ReadSectors(3, 2, buf); err == nil {
		t.Fatal("expected ReadSectors to reject a range past the end of the device")
	}
	if err := dev.WriteSectors(-1, 1, buf); err == nil {
		t.Fatal("expected WriteSectors to reject a negative lba")
	}
}

func TestOpenBlockDeviceRejectsUnalignedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.img")
	dev, err := CreateBlockDevice(path, 1)
	if err != nil {
		t.Fatalf("CreateBlockDevice: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Truncate the file to a non-sector-aligned size behind the BlockDevice's
	// back, then confirm OpenBlockDevice refuses it.
	if err := os.Truncate(path, SectorSize+1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, err := OpenBlockDevice(path); err == nil {
		t.Fatal("expected OpenBlockDevice to reject an unaligned image size")
	}
}
