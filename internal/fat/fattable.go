// Adapted from github.com/dargueta-disko's drivers/fat/driverbase.go (chain
// walking via FATDriverCommon.GetClusterAtIndex/SetClusterAtIndex) and
// drivers/common/allocatormap.go (rolling first-fit scan), generalized to
// FAT32's 32-bit entries, multi-copy mirroring, and FSInfo bookkeeping.
package fat

import (
	"encoding/binary"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/fat32/internal/blockio"

	ferrors "github.com/dargueta/fat32/errors"
)

// Reserved FAT32 entry values. Only the low 28 bits are meaningful; the top
// 4 bits are reserved. This engine masks them off when reading an entry and
// always writes them as 0, matching the canonical forms below.
const (
	clusterFree      = uint32(0x00000000)
	clusterBad       = uint32(0x0FFFFFF7)
	clusterEOCWrite  = uint32(0x0FFFFFFF)
	clusterEOCLow    = uint32(0x0FFFFFF8)
	clusterEOCHigh   = uint32(0x0FFFFFFF)
	clusterEntryMask = uint32(0x0FFFFFFF)
)

// ClusterState classifies the result of a FAT entry lookup.
type ClusterState int

const (
	ClusterFree ClusterState = iota
	ClusterNext
	ClusterEndOfChain
	ClusterBad
)

// FatTable owns the FAT region of a volume: reading and writing entries,
// mirroring writes across every FAT copy, and maintaining FSInfo. It is the
// only component permitted to mutate cluster linkage.
type FatTable struct {
	geometry        *blockio.Geometry
	cache           *blockio.SectorCache
	reservedSectors uint32
	bytesPerSector  uint32
	sectorsPerFAT   uint32
	numFATs         uint
	totalClusters   uint32
	freeBitmap      *freeClusterBitmap
	fsInfoSector    uint32
	fsInfoDirty     bool
}

// NewFatTable constructs a FatTable bound to the given geometry and boot
// sector parameters. It does not itself read anything; callers build the
// free-cluster bitmap via RebuildFreeBitmap after construction.
func NewFatTable(geometry *blockio.Geometry, cache *blockio.SectorCache, boot *BootSector, fsInfoSector uint32) *FatTable {
	return &FatTable{
		geometry:        geometry,
		cache:           cache,
		reservedSectors: uint32(boot.ReservedSectors),
		bytesPerSector:  uint32(boot.BytesPerSector),
		sectorsPerFAT:   boot.SectorsPerFAT,
		numFATs:         boot.NumFATs,
		totalClusters:   boot.TotalClusters,
		freeBitmap:      newFreeClusterBitmap(uint(boot.TotalClusters)),
		fsInfoSector:    fsInfoSector,
	}
}

func (t *FatTable) entryLocation(cluster uint32) (sector uint32, offset uint32) {
	byteOffset := cluster * 4
	sector = t.reservedSectors + byteOffset/t.bytesPerSector
	offset = byteOffset % t.bytesPerSector
	return
}

func (t *FatTable) validateCluster(cluster uint32) error {
	if cluster < 2 || cluster >= 2+t.totalClusters {
		return ferrors.ErrInvalid.WithMessage("cluster number out of range")
	}
	return nil
}

// GetNext reads the FAT entry for cluster and classifies it.
func (t *FatTable) GetNext(cluster uint32) (ClusterState, uint32, error) {
	if err := t.validateCluster(cluster); err != nil {
		return ClusterBad, 0, err
	}

	sector, offset := t.entryLocation(cluster)
	buf, err := t.cache.Read(sector)
	if err != nil {
		return ClusterBad, 0, ferrors.ErrIO.Wrap(err)
	}

	raw := binary.LittleEndian.Uint32(buf[offset:offset+4]) & clusterEntryMask
	switch {
	case raw == clusterFree:
		return ClusterFree, 0, nil
	case raw == clusterBad:
		return ClusterBad, 0, nil
	case raw >= clusterEOCLow && raw <= clusterEOCHigh:
		return ClusterEndOfChain, 0, nil
	default:
		return ClusterNext, raw, nil
	}
}

// SetNext writes value into cluster's FAT entry and mirrors the write into
// every FAT copy, primary sector first, then each mirror in increasing
// index order. It also keeps the in-memory free-cluster bitmap in sync.
func (t *FatTable) SetNext(cluster uint32, value uint32) error {
	if err := t.validateCluster(cluster); err != nil {
		return err
	}

	wasFree, err := t.isFree(cluster)
	if err != nil {
		return err
	}

	sector, offset := t.entryLocation(cluster)
	buf, err := t.cache.Read(sector)
	if err != nil {
		return ferrors.ErrIO.Wrap(err)
	}

	binary.LittleEndian.PutUint32(buf[offset:offset+4], value&clusterEntryMask)
	if err := t.cache.Write(sector); err != nil {
		return ferrors.ErrIO.Wrap(err)
	}

	// A mirror copy failing to write doesn't stop the others: every FAT
	// copy is independent on disk, so skipping the rest over one bad
	// sector would leave the surviving copies silently out of sync with
	// each other instead of just with the one that failed. Errors from
	// every copy are collected and reported together.
	var mirrorErrs *multierror.Error
	for copyIndex := uint(1); copyIndex < t.numFATs; copyIndex++ {
		mirrorSector := sector + uint32(copyIndex)*t.sectorsPerFAT
		mirrorBuf, err := t.cache.Read(mirrorSector)
		if err != nil {
			mirrorErrs = multierror.Append(mirrorErrs, ferrors.ErrIO.Wrap(err))
			continue
		}
		binary.LittleEndian.PutUint32(mirrorBuf[offset:offset+4], value&clusterEntryMask)
		if err := t.cache.Write(mirrorSector); err != nil {
			mirrorErrs = multierror.Append(mirrorErrs, ferrors.ErrIO.Wrap(err))
		}
	}
	if mirrorErrs.ErrorOrNil() != nil {
		return mirrorErrs.ErrorOrNil()
	}

	isNowFree := (value & clusterEntryMask) == clusterFree
	if wasFree && !isNowFree {
		_ = t.freeBitmap.markUsed(cluster)
		t.fsInfoDirty = true
	} else if !wasFree && isNowFree {
		_ = t.freeBitmap.markFree(cluster)
		t.fsInfoDirty = true
	}

	return nil
}

func (t *FatTable) isFree(cluster uint32) (bool, error) {
	state, _, err := t.GetNext(cluster)
	if err != nil {
		return false, err
	}
	return state == ClusterFree, nil
}

// Allocate performs a rolling first-fit scan for a free cluster, writes EOC
// into it, links prev to it (if prev != 0), and updates the free-cluster
// bookkeeping. Fails with NoSpace after a full revolution of the table.
func (t *FatTable) Allocate(prev uint32) (uint32, error) {
	var newCluster uint32
	for {
		candidate, err := t.freeBitmap.findFree()
		if err != nil {
			return 0, err
		}
		// The bitmap only skips known-used clusters; the FAT entry decides.
		free, err := t.isFree(candidate)
		if err != nil {
			return 0, err
		}
		if free {
			newCluster = candidate
			break
		}
		_ = t.freeBitmap.markUsed(candidate)
	}

	if err := t.SetNext(newCluster, clusterEOCWrite); err != nil {
		return 0, err
	}

	if prev != 0 {
		if err := t.SetNext(prev, newCluster); err != nil {
			return 0, err
		}
	}

	if err := t.FlushFSInfo(); err != nil {
		return 0, err
	}

	return newCluster, nil
}

// FreeChain walks the chain starting at head, zeroing every entry. A head
// of 0 is a no-op, matching an empty file's first_cluster sentinel.
func (t *FatTable) FreeChain(head uint32) error {
	if head == 0 {
		return nil
	}

	current := head
	for {
		state, next, err := t.GetNext(current)
		if err != nil {
			return err
		}

		if err := t.SetNext(current, clusterFree); err != nil {
			return err
		}

		if state != ClusterNext {
			break
		}
		current = next
	}

	return t.FlushFSInfo()
}

// FreeClusterCount returns the cached count of free clusters.
func (t *FatTable) FreeClusterCount() uint {
	return t.freeBitmap.FreeCount()
}

// RebuildFreeBitmap performs a full linear scan of the FAT to populate the
// in-memory free-cluster bitmap at mount time.
func (t *FatTable) RebuildFreeBitmap() error {
	for cluster := uint32(2); cluster < 2+t.totalClusters; cluster++ {
		state, _, err := t.GetNext(cluster)
		if err != nil {
			return err
		}
		if state != ClusterFree {
			if err := t.freeBitmap.markUsed(cluster); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushFSInfo writes the current free-cluster count and allocator cursor to
// the FSInfo sector if it has changed since the last flush.
func (t *FatTable) FlushFSInfo() error {
	if !t.fsInfoDirty {
		return nil
	}

	buf, err := t.cache.Read(t.fsInfoSector)
	if err != nil {
		return ferrors.ErrIO.Wrap(err)
	}

	info := FSInfo{
		FreeClusterCount: uint32(t.freeBitmap.FreeCount()),
		NextFreeCluster:  uint32(t.freeBitmap.lastAllocatedIndex) + 2,
	}
	if err := info.Encode(buf); err != nil {
		return err
	}
	if err := t.cache.Write(t.fsInfoSector); err != nil {
		return ferrors.ErrIO.Wrap(err)
	}

	t.fsInfoDirty = false
	return nil
}

// SeedAllocatorCursor primes the rolling allocation scan with the
// last-allocated hint recovered from FSInfo at mount time.
func (t *FatTable) SeedAllocatorCursor(lastAllocated uint32) {
	if lastAllocated < 2 || lastAllocated >= 2+t.totalClusters {
		return
	}
	t.freeBitmap.lastAllocatedIndex = uint(lastAllocated - 2)
}
