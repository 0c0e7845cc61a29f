package testing

import (
	"fmt"
	"testing"

	"github.com/dargueta/fat32"
	ferrors "github.com/dargueta/fat32/errors"
	"github.com/stretchr/testify/assert"
)

// MemoryBlockDevice is an in-memory fat32.BlockDevice backed by a plain byte
// slice, adapted from the bounds-checked fetch/flush callbacks of the
// teacher's CreateDefaultCache to this engine's sector-granular interface
// instead of disko's generic block cache.
type MemoryBlockDevice struct {
	BytesPerSector uint
	TotalSectors   uint
	Writable       bool
	data           []byte
}

// NewMemoryBlockDevice wraps backingData (or TotalSectors*bytesPerSector
// bytes of random data if backingData is nil) in a MemoryBlockDevice.
func NewMemoryBlockDevice(
	bytesPerSector, totalSectors uint, writable bool, backingData []byte, t *testing.T,
) *MemoryBlockDevice {
	if backingData == nil {
		backingData = CreateRandomImage(bytesPerSector, totalSectors, t)
	}
	assert.EqualValues(t, bytesPerSector*totalSectors, len(backingData), "backing data is the wrong size")

	return &MemoryBlockDevice{
		BytesPerSector: bytesPerSector,
		TotalSectors:   totalSectors,
		Writable:       writable,
		data:           backingData,
	}
}

func (d *MemoryBlockDevice) checkBounds(sector uint32, count uint) error {
	if uint(sector)+count > d.TotalSectors {
		return ferrors.ErrIO.WithMessage(fmt.Sprintf(
			"attempted to access outside bounds: sectors [%d, %d) not in [0, %d)",
			sector, uint(sector)+count, d.TotalSectors))
	}
	return nil
}

func (d *MemoryBlockDevice) ReadSectors(sector uint32, count uint, buf []byte) error {
	if err := d.checkBounds(sector, count); err != nil {
		return err
	}
	start := uint(sector) * d.BytesPerSector
	copy(buf, d.data[start:start+count*d.BytesPerSector])
	return nil
}

func (d *MemoryBlockDevice) WriteSectors(sector uint32, count uint, buf []byte) error {
	if !d.Writable {
		return ferrors.ErrReadOnly.WithMessage("device was opened read-only")
	}
	if err := d.checkBounds(sector, count); err != nil {
		return err
	}
	start := uint(sector) * d.BytesPerSector
	copy(d.data[start:start+count*d.BytesPerSector], buf)
	return nil
}

var _ fat32.BlockDevice = (*MemoryBlockDevice)(nil)
