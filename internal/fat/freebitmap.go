// Adapted from github.com/dargueta/disko's drivers/common/allocatormap.go.
// That Allocator tracked free/used *blocks* with one bit per block, scanning
// for a first-fit run on every allocation. A FAT32 volume's real allocation
// state lives in the FAT table itself (each entry says whether its cluster
// is free, allocated, or end-of-chain), so this bitmap is not authoritative
// -- it is a write-through cache FatTable keeps in sync with the FAT so that
// FatTable.Allocate doesn't have to re-read FAT entries from the device to
// find the next free one. The rolling scan position is still honored to
// match the on-disk FSInfo hint's role as a starting point, not a cache.
package fat

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	ferrors "github.com/dargueta/fat32/errors"
)

// freeClusterBitmap tracks, per data cluster index (0-based, cluster 2 is
// index 0), whether the cluster is currently allocated. It is rebuilt from
// a full FAT scan at mount time and kept in sync by FatTable on every
// SetNext call.
type freeClusterBitmap struct {
	bits               bitmap.Bitmap
	totalClusters      uint
	lastAllocatedIndex uint
	freeCount          uint
}

func newFreeClusterBitmap(totalClusters uint) *freeClusterBitmap {
	return &freeClusterBitmap{
		bits:          bitmap.New(int(totalClusters)),
		totalClusters: totalClusters,
		freeCount:     totalClusters,
	}
}

func (b *freeClusterBitmap) indexOf(cluster uint32) (uint, error) {
	if cluster < 2 {
		return 0, ferrors.ErrInvalid.WithMessage(
			fmt.Sprintf("cluster %d is reserved, not a data cluster", cluster))
	}
	index := uint(cluster - 2)
	if index >= b.totalClusters {
		return 0, ferrors.ErrInvalid.WithMessage(
			fmt.Sprintf("cluster %d out of range, volume has %d data clusters", cluster, b.totalClusters))
	}
	return index, nil
}

// markUsed records that the given cluster is no longer free. It is called
// by FatTable whenever a FAT entry transitions away from the free value.
func (b *freeClusterBitmap) markUsed(cluster uint32) error {
	index, err := b.indexOf(cluster)
	if err != nil {
		return err
	}
	if !b.bits.Get(int(index)) {
		b.bits.Set(int(index), true)
		b.freeCount--
	}
	return nil
}

// markFree records that the given cluster is free again.
func (b *freeClusterBitmap) markFree(cluster uint32) error {
	index, err := b.indexOf(cluster)
	if err != nil {
		return err
	}
	if b.bits.Get(int(index)) {
		b.bits.Set(int(index), false)
		b.freeCount++
	}
	return nil
}

// FreeCount returns the cached number of free clusters.
func (b *freeClusterBitmap) FreeCount() uint {
	return b.freeCount
}

// findFree performs a rolling first-fit scan starting just past the last
// cluster handed out, wrapping around once, mirroring FSInfo's
// next-free-cluster hint semantics.
func (b *freeClusterBitmap) findFree() (uint32, error) {
	start := b.lastAllocatedIndex + 1
	for offset := uint(0); offset < b.totalClusters; offset++ {
		index := (start + offset) % b.totalClusters
		if !b.bits.Get(int(index)) {
			b.lastAllocatedIndex = index
			return uint32(index) + 2, nil
		}
	}
	return 0, ferrors.ErrNoSpace.WithMessage("no free clusters remain on volume")
}
