package fat32_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dargueta/fat32"
	ferrors "github.com/dargueta/fat32/errors"
	ftesting "github.com/dargueta/fat32/testing"
)

func mountFreshVolume(t *testing.T) *fat32.Volume {
	t.Helper()

	image, totalSectors := ftesting.BuildFreshImage(t, ftesting.DefaultFreshImageParams())
	device := ftesting.NewMemoryBlockDevice(512, totalSectors, true, image, t)

	volume, err := fat32.Mount(device, fat32.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = volume.Unmount() })
	return volume
}

func readAll(t *testing.T, f *fat32.File) []byte {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, 256)
	for {
		n, err := f.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	return out.Bytes()
}

// Appending to a file whose size lands exactly on a cluster boundary must
// not fail: Seek(0, SeekEnd) walks to the cluster containing the last byte,
// not one past it.
func TestAppendAtClusterBoundary(t *testing.T) {
	volume := mountFreshVolume(t)

	f, err := volume.OpenFile("/boundary.dat", fat32.ModeWrite)
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte{0xAB}, 512))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	af, err := volume.OpenFile("/boundary.dat", fat32.ModeAppend)
	require.NoError(t, err)
	_, err = af.Write(bytes.Repeat([]byte{0xCD}, 10))
	require.NoError(t, err)
	require.NoError(t, af.Close())

	rf, err := volume.OpenFile("/boundary.dat", fat32.ModeRead)
	require.NoError(t, err)
	got := readAll(t, rf)
	require.NoError(t, rf.Close())

	require.Len(t, got, 522)
	require.Equal(t, bytes.Repeat([]byte{0xAB}, 512), got[:512])
	require.Equal(t, bytes.Repeat([]byte{0xCD}, 10), got[512:])
}

// FSInfo must reflect allocate/free activity without an explicit Unmount:
// FlushFSInfo runs after every successful Allocate/FreeChain, not only at
// the end of the volume's lifetime.
func TestFSInfoFlushesWithoutUnmount(t *testing.T) {
	params := ftesting.DefaultFreshImageParams()
	image, totalSectors := ftesting.BuildFreshImage(t, params)
	device := ftesting.NewMemoryBlockDevice(512, totalSectors, true, image, t)

	volume, err := fat32.Mount(device, fat32.DefaultConfig())
	require.NoError(t, err)
	defer volume.Unmount()

	freeBefore := volume.FreeClusters()

	f, err := volume.OpenFile("/c.txt", fat32.ModeWrite)
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte{0x01}, 4096))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Less(t, volume.FreeClusters(), freeBefore)

	// The FSInfo sector (sector 1 of the fresh image) on the device itself
	// must already carry the new free count at offset 488, before any
	// Unmount.
	fsInfo := make([]byte, 512)
	require.NoError(t, device.ReadSectors(1, 1, fsInfo))
	require.EqualValues(t, volume.FreeClusters(), binary.LittleEndian.Uint32(fsInfo[488:492]))

	// Remount over the same backing bytes without ever calling Unmount on
	// the first volume. The remount rebuilds its free count from the FAT,
	// so this checks that the FAT writes reached the device too.
	reopened, err := fat32.Mount(device, fat32.DefaultConfig())
	require.NoError(t, err)
	defer reopened.Unmount()

	require.Equal(t, volume.FreeClusters(), reopened.FreeClusters())
}

// Flush (called on every non-read Close) must keep patching the directory
// entry's size across repeated write+close cycles on the same path, not
// only on the first one.
func TestFlushPatchesSizeOnRepeatedWrites(t *testing.T) {
	volume := mountFreshVolume(t)

	f, err := volume.OpenFile("/m.txt", fat32.ModeWrite)
	require.NoError(t, err)
	_, err = f.Write([]byte{1})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	stat, err := volume.Stat("/m.txt")
	require.NoError(t, err)
	require.EqualValues(t, 1, stat.Size)

	f2, err := volume.OpenFile("/m.txt", fat32.ModeAppend)
	require.NoError(t, err)
	_, err = f2.Write([]byte{2, 3})
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	stat, err = volume.Stat("/m.txt")
	require.NoError(t, err)
	require.EqualValues(t, 3, stat.Size)
}

// Config.EnablePools routes File/Dir handles through a sync.Pool rather
// than a fresh allocation per open; functionally, opens/closes must behave
// identically either way.
func TestEnablePoolsReusesHandles(t *testing.T) {
	image, totalSectors := ftesting.BuildFreshImage(t, ftesting.DefaultFreshImageParams())
	device := ftesting.NewMemoryBlockDevice(512, totalSectors, true, image, t)

	config := fat32.DefaultConfig()
	config.EnablePools = true

	volume, err := fat32.Mount(device, config)
	require.NoError(t, err)
	defer volume.Unmount()

	for i := 0; i < 3; i++ {
		f, err := volume.OpenFile("/p.txt", fat32.ModeWrite)
		require.NoError(t, err)
		_, err = f.Write([]byte{byte(i)})
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	dir, err := volume.OpenDir("/")
	require.NoError(t, err)
	require.NoError(t, dir.Close())

	stat, err := volume.Stat("/p.txt")
	require.NoError(t, err)
	require.EqualValues(t, 1, stat.Size)
}

// Mount rejects a boot sector whose BytesPerSector doesn't match the
// configured SectorExponent.
func TestMountRejectsSectorExponentMismatch(t *testing.T) {
	image, totalSectors := ftesting.BuildFreshImage(t, ftesting.DefaultFreshImageParams())
	device := ftesting.NewMemoryBlockDevice(512, totalSectors, true, image, t)

	config := fat32.DefaultConfig()
	config.SectorExponent = 12 // expects 4096-byte sectors; image has 512

	_, err := fat32.Mount(device, config)
	require.Error(t, err)
}

// Seed scenario 1: create, write, read back.
func TestCreateWriteReadBack(t *testing.T) {
	volume := mountFreshVolume(t)

	payload := bytes.Repeat([]byte{0xAB}, 1500)

	f, err := volume.OpenFile("/a.txt", fat32.ModeWrite)
	require.NoError(t, err)
	n, err := f.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NoError(t, f.Close())

	stat, err := volume.Stat("/a.txt")
	require.NoError(t, err)
	require.EqualValues(t, 1500, stat.Size)

	rf, err := volume.OpenFile("/a.txt", fat32.ModeRead)
	require.NoError(t, err)
	got := readAll(t, rf)
	require.NoError(t, rf.Close())

	require.Equal(t, payload, got)
}

// Seed scenario 2: LFN round-trip.
func TestLongFileNameRoundTrip(t *testing.T) {
	volume := mountFreshVolume(t)

	name := "/Long File Name.dat"
	f, err := volume.OpenFile(name, fat32.ModeWrite)
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte{0x01}, 10))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dir, err := volume.OpenDir("/")
	require.NoError(t, err)
	defer dir.Close()

	var found bool
	for {
		entry, ok, err := dir.ReadDir()
		require.NoError(t, err)
		if !ok {
			break
		}
		if entry.Name == "Long File Name.dat" {
			found = true
		}
	}
	require.True(t, found, "expected to find the long name in the directory listing")
}

// Seed scenario 3: truncate on re-open.
func TestTruncateOnReopen(t *testing.T) {
	volume := mountFreshVolume(t)

	f, err := volume.OpenFile("/a.txt", fat32.ModeWrite)
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte{0xAB}, 1500))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	freeBefore := volume.FreeClusters()

	f2, err := volume.OpenFile("/a.txt", fat32.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	stat, err := volume.Stat("/a.txt")
	require.NoError(t, err)
	require.EqualValues(t, 0, stat.Size)
	require.Greater(t, volume.FreeClusters(), freeBefore)
}

// Seed scenario 4: append.
func TestAppend(t *testing.T) {
	volume := mountFreshVolume(t)

	f, err := volume.OpenFile("/a.txt", fat32.ModeWrite)
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte{0xAB}, 1500))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	af, err := volume.OpenFile("/a.txt", fat32.ModeAppend)
	require.NoError(t, err)
	_, err = af.Write(bytes.Repeat([]byte{0xCD}, 100))
	require.NoError(t, err)
	require.NoError(t, af.Close())

	rf, err := volume.OpenFile("/a.txt", fat32.ModeRead)
	require.NoError(t, err)
	got := readAll(t, rf)
	require.NoError(t, rf.Close())

	require.Len(t, got, 1600)
	require.Equal(t, bytes.Repeat([]byte{0xAB}, 1500), got[:1500])
	require.Equal(t, bytes.Repeat([]byte{0xCD}, 100), got[1500:])
}

// Seed scenario 5: mkdir + rmdir.
func TestMakeDirAndRemoveDir(t *testing.T) {
	volume := mountFreshVolume(t)

	require.NoError(t, volume.MakeDir("/d"))

	stat, err := volume.Stat("/d")
	require.NoError(t, err)
	require.True(t, stat.IsDir())

	dir, err := volume.OpenDir("/d")
	require.NoError(t, err)
	var names []string
	for {
		entry, ok, err := dir.ReadDir()
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, entry.Name)
	}
	require.NoError(t, dir.Close())
	require.ElementsMatch(t, []string{".", ".."}, names)

	require.NoError(t, volume.RemoveDir("/d"))
	_, err = volume.Stat("/d")
	require.Error(t, err)
}

// Seed scenario 6: non-empty rmdir rejection.
func TestRemoveDirRejectsNonEmpty(t *testing.T) {
	volume := mountFreshVolume(t)

	require.NoError(t, volume.MakeDir("/d"))
	f, err := volume.OpenFile("/d/f", fat32.ModeWrite)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = volume.RemoveDir("/d")
	require.Error(t, err)
}

// Seed scenario 7: move across directories.
func TestMoveAcrossDirectories(t *testing.T) {
	volume := mountFreshVolume(t)

	require.NoError(t, volume.MakeDir("/a"))
	require.NoError(t, volume.MakeDir("/b"))

	f, err := volume.OpenFile("/a/x", fat32.ModeWrite)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, volume.Move("/a/x", "/b/y"))

	_, err = volume.Stat("/a/x")
	require.Error(t, err)

	stat, err := volume.Stat("/b/y")
	require.NoError(t, err)
	require.EqualValues(t, 5, stat.Size)

	rf, err := volume.OpenFile("/b/y", fat32.ModeRead)
	require.NoError(t, err)
	got := readAll(t, rf)
	require.NoError(t, rf.Close())
	require.Equal(t, []byte{1, 2, 3, 4, 5}, got)
}

// Idempotence property from the testable-properties list: removing a path
// twice must fail the second time with NotFound.
func TestRemoveIsNotIdempotent(t *testing.T) {
	volume := mountFreshVolume(t)

	f, err := volume.OpenFile("/a.txt", fat32.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, volume.Remove("/a.txt"))
	err = volume.Remove("/a.txt")
	require.ErrorIs(t, err, ferrors.ErrNotFound)
}

// Seed scenario 8: fill-to-full allocation.
func TestFillToFullAllocation(t *testing.T) {
	params := ftesting.DefaultFreshImageParams()
	params.DataClusters = 16
	image, totalSectors := ftesting.BuildFreshImage(t, params)
	device := ftesting.NewMemoryBlockDevice(512, totalSectors, true, image, t)

	volume, err := fat32.Mount(device, fat32.DefaultConfig())
	require.NoError(t, err)
	defer volume.Unmount()

	freeAtStart := volume.FreeClusters()

	var firstErr error
	written := 0
	for i := 0; i < 64; i++ {
		name := "/f" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		f, err := volume.OpenFile(name, fat32.ModeWrite)
		if err != nil {
			firstErr = err
			break
		}
		_, werr := f.Write(bytes.Repeat([]byte{0x42}, 4096))
		closeErr := f.Close()
		if werr != nil {
			firstErr = werr
			break
		}
		if closeErr != nil {
			firstErr = closeErr
			break
		}
		written++
	}

	require.Error(t, firstErr, "expected allocation to eventually fail once the volume fills up")
	require.EqualValues(t, 0, volume.FreeClusters())

	// Removing one of the written files must give its clusters back: the
	// free count rises above zero but never past the count at the start.
	require.Greater(t, written, 0)
	name := "/f" + string(rune('a'+0)) + string(rune('0'+0))
	require.NoError(t, volume.Remove(name))
	require.Greater(t, volume.FreeClusters(), uint(0))
	require.LessOrEqual(t, volume.FreeClusters(), freeAtStart)
}
