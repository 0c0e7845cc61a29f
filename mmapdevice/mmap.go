// Package mmapdevice adapts a memory-mapped file into a fat32.BlockDevice,
// letting the engine operate directly on a disk image's pages instead of
// going through read/write syscalls for every sector. Built on
// golang.org/x/sys/unix's mmap wrapper; this package is the only one in the
// module that uses golang.org/x/sys.
package mmapdevice

import (
	"os"

	"golang.org/x/sys/unix"

	ferrors "github.com/dargueta/fat32/errors"
)

// Device is a fat32.BlockDevice backed by an mmap'd file.
type Device struct {
	file           *os.File
	data           []byte
	bytesPerSector uint
	totalSectors   uint
}

// Open mmaps path and wraps it as a sector-granular BlockDevice. The file's
// size must be a nonzero whole number of bytesPerSector-sized sectors; the
// device's sector count is derived from it.
func Open(path string, bytesPerSector uint, writable bool) (*Device, error) {
	flags := os.O_RDONLY
	prot := unix.PROT_READ
	if writable {
		flags = os.O_RDWR
		prot |= unix.PROT_WRITE
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, ferrors.ErrIO.Wrap(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ferrors.ErrIO.Wrap(err)
	}
	size := info.Size()
	if size <= 0 || size%int64(bytesPerSector) != 0 {
		f.Close()
		return nil, ferrors.ErrInvalid.WithMessage("image size is not a whole number of sectors")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, ferrors.ErrIO.Wrap(err)
	}

	return &Device{
		file:           f,
		data:           data,
		bytesPerSector: bytesPerSector,
		totalSectors:   uint(size) / bytesPerSector,
	}, nil
}

// Close unmaps the file and closes its descriptor.
func (d *Device) Close() error {
	err := unix.Munmap(d.data)
	closeErr := d.file.Close()
	if err != nil {
		return ferrors.ErrIO.Wrap(err)
	}
	if closeErr != nil {
		return ferrors.ErrIO.Wrap(closeErr)
	}
	return nil
}

func (d *Device) checkBounds(sector uint32, count uint) error {
	if uint(sector)+count > d.totalSectors {
		return ferrors.ErrIO.WithMessage("sector range out of bounds")
	}
	return nil
}

// ReadSectors copies count sectors starting at sector into buf directly
// from the mapped pages.
func (d *Device) ReadSectors(sector uint32, count uint, buf []byte) error {
	if err := d.checkBounds(sector, count); err != nil {
		return err
	}
	start := uint(sector) * d.bytesPerSector
	copy(buf, d.data[start:start+count*d.bytesPerSector])
	return nil
}

// WriteSectors copies buf into the mapped pages at the given sector range.
// The write becomes visible to other mappings of the file per MAP_SHARED
// semantics; callers wanting it durable on disk should msync or close the
// device.
func (d *Device) WriteSectors(sector uint32, count uint, buf []byte) error {
	if err := d.checkBounds(sector, count); err != nil {
		return err
	}
	start := uint(sector) * d.bytesPerSector
	copy(d.data[start:start+count*d.bytesPerSector], buf)
	return nil
}
