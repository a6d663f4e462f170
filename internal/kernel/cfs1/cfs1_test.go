package cfs1

import (
	"bytes"
	"testing"
)

// memDisk is an in-memory Disk backing store, standing in for
// hostenv.BlockDevice for filesystem round-trip tests.
type memDisk struct {
	sectors [][SectorSize]byte
}

func newMemDisk(n int) *memDisk {
	return &memDisk{sectors: make([][SectorSize]byte, n)}
}

func (d *memDisk) Sectors() int { return len(d.sectors) }

func (d *memDisk) ReadSectors(lba, count int, buf []byte) error {
	for i := 0; i < count; i++ {
		copy(buf[i*SectorSize:(i+1)*SectorSize], d.sectors[lba+i][:])
	}
	return nil
}

func (d *memDisk) WriteSectors(lba, count int, buf []byte) error {
	for i := 0; i < count; i++ {
		copy(d.sectors[lba+i][:], buf[i*SectorSize:(i+1)*SectorSize])
	}
	return nil
}

func TestFormatThenMountRoundTrips(t *testing.T) {
	disk := newMemDisk(64)
	fs1, err := Format(disk, 4)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs1.Create("hello.txt", []byte("hello world")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fs2, err := Mount(disk)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	data, err := fs2.Read("hello.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte("hello world")) {
		t.Fatalf("Read = %q, want %q", data, "hello world")
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	disk := newMemDisk(64)
	fs, err := Format(disk, 4)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Create("a", []byte("1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Create("a", []byte("2")); err != ErrAlreadyExists {
		t.Fatalf("Create duplicate = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateRejectsInvalidNames(t *testing.T) {
	disk := newMemDisk(64)
	fs, err := Format(disk, 4)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	cases := []string{"", "has/slash", string(make([]byte, 64))}
	for _, name := range cases {
		if err := fs.Create(name, nil); err != ErrNameInvalid {
			t.Errorf("Create(%q) = %v, want ErrNameInvalid", name, err)
		}
	}
}

func TestReadMissingFileFails(t *testing.T) {
	disk := newMemDisk(64)
	fs, err := Format(disk, 4)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if _, err := fs.Read("nope"); err != ErrNotFound {
		t.Fatalf("Read(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteThenRecreateReusesDirectorySlot(t *testing.T) {
	disk := newMemDisk(64)
	fs, err := Format(disk, 4)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Create("a", []byte("x")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Read("a"); err != ErrNotFound {
		t.Fatalf("Read after delete = %v, want ErrNotFound", err)
	}
	if err := fs.Create("a", []byte("y")); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
	data, err := fs.Read("a")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte("y")) {
		t.Fatalf("Read = %q, want %q", data, "y")
	}
}

func TestWriteReplacesContent(t *testing.T) {
	disk := newMemDisk(64)
	fs, err := Format(disk, 4)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Create("a", []byte("short")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Write("a", []byte("a much longer replacement body")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := fs.Read("a")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte("a much longer replacement body")) {
		t.Fatalf("Read = %q", data)
	}
}

func TestDirectoryFullRejectsCreate(t *testing.T) {
	disk := newMemDisk(256)
	fs, err := Format(disk, 1) // 1 sector / 64 bytes per entry = 8 slots
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	for i := 0; i < 8; i++ {
		name := string(rune('a' + i))
		if err := fs.Create(name, nil); err != nil {
			t.Fatalf("Create %q: %v", name, err)
		}
	}
	if err := fs.Create("overflow", nil); err != ErrDirFull {
		t.Fatalf("Create past FileLimit = %v, want ErrDirFull", err)
	}
}

func TestDiskFullRejectsCreate(t *testing.T) {
	disk := newMemDisk(4) // superblock + 1 dir sector + 2 data sectors
	fs, err := Format(disk, 1)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Create("big", make([]byte, 3*SectorSize)); err != ErrDiskFull {
		t.Fatalf("Create oversized = %v, want ErrDiskFull", err)
	}
}

func TestListReturnsOnlyInUseEntries(t *testing.T) {
	disk := newMemDisk(64)
	fs, err := Format(disk, 4)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Create("a", []byte("1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Create("b", []byte("2")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entries, err := fs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "b" {
		t.Fatalf("List = %+v, want only %q", entries, "b")
	}
}
