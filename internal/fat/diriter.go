// DirIterator walks a directory's cluster chain 32 bytes at a time. Grounded
// on the traversal shape of github.com/dargueta/disko's
// drivers/fat/driverbase.go (ReadDirFromDirent's cluster-by-cluster walk)
// and drivers/fat/dirent.go (clusterToDirentSlice), generalized to coalesce
// VFAT long-name chunks, which the teacher never implements.
package fat

import (
	"unicode/utf16"

	"github.com/dargueta/fat32/charset"
	"github.com/dargueta/fat32/internal/blockio"

	ferrors "github.com/dargueta/fat32/errors"
)

// DirIterator scans the slots of one directory's cluster chain.
type DirIterator struct {
	geometry        *blockio.Geometry
	cache           *blockio.SectorCache
	fat             *FatTable
	entriesPerClust uint

	startCluster uint32
	cluster      uint32 // 0 means the conventional root-parent marker (".." of a top-level dir)
	index        uint   // next slot index to read, within the whole chain
}

// NewDirIterator begins a scan of the directory whose first cluster is
// startCluster. A startCluster of 0 denotes the FAT32 fixed root directory
// is NOT what this represents -- FAT32's root lives at a real cluster
// (boot.RootCluster) -- 0 here is only ever seen as a parent-of-root marker
// and iterating it yields EndOfDir immediately.
func NewDirIterator(geometry *blockio.Geometry, cache *blockio.SectorCache, fat *FatTable, startCluster uint32) *DirIterator {
	return &DirIterator{
		geometry:        geometry,
		cache:           cache,
		fat:             fat,
		entriesPerClust: geometry.BytesPerCluster() / EntrySize,
		startCluster:    startCluster,
		cluster:         startCluster,
	}
}

// slotLocation returns the cluster and the index into the bytes-per-sector
// buffer for the given intra-chain slot index, following the chain if
// needed via the FAT.
func (it *DirIterator) slotLocation(globalIndex uint) (cluster uint32, localIndex uint, err error) {
	cluster = it.startCluster
	remaining := globalIndex

	for remaining >= it.entriesPerClust {
		state, next, gerr := it.fat.GetNext(cluster)
		if gerr != nil {
			return 0, 0, gerr
		}
		if state != ClusterNext {
			return 0, 0, ferrors.ErrIO.WithMessage("directory cluster chain ended unexpectedly")
		}
		cluster = next
		remaining -= it.entriesPerClust
	}

	return cluster, remaining, nil
}

func (it *DirIterator) readSlot(cluster uint32, localIndex uint) (RawShortEntry, error) {
	sector, offset, err := it.sectorForSlot(cluster, localIndex)
	if err != nil {
		return RawShortEntry{}, err
	}
	buf, err := it.cache.Read(sector)
	if err != nil {
		return RawShortEntry{}, ferrors.ErrIO.Wrap(err)
	}
	return DecodeRawShortEntry(buf[offset : offset+EntrySize]), nil
}

func (it *DirIterator) sectorForSlot(cluster uint32, localIndex uint) (sector uint32, offset uint32, err error) {
	entriesPerSector := it.geometry.BytesPerSector / EntrySize
	sectorInCluster := localIndex / entriesPerSector
	offsetInSector := (localIndex % entriesPerSector) * EntrySize

	firstSector, cerr := it.geometry.ClusterToSector(cluster)
	if cerr != nil {
		return 0, 0, cerr
	}
	return firstSector + uint32(sectorInCluster), uint32(offsetInSector), nil
}

// EndOfDir is returned by FetchNext when the first free (name[0]==0) slot
// is reached.
type EndOfDir struct{}

func (EndOfDir) Error() string { return "end of directory" }

// FetchNext returns the next non-deleted, non-volume-label entry in the
// directory, with any preceding LFN chunks already coalesced into its long
// name. It returns a bare EndOfDir value (callers match it with a type
// assertion) once the end-of-directory marker is observed, and at once for
// a startCluster of 0.
func (it *DirIterator) FetchNext() (Dirent, error) {
	var pendingLFN []RawLFNEntry

	if it.startCluster == 0 {
		return Dirent{}, EndOfDir{}
	}

	for {
		cluster, localIndex, err := it.slotLocation(it.index)
		if err != nil {
			return Dirent{}, err
		}

		raw, err := it.readSlot(cluster, localIndex)
		if err != nil {
			return Dirent{}, err
		}

		slotIndex := it.index
		it.index++

		if raw.IsFree() {
			return Dirent{}, EndOfDir{}
		}

		if raw.IsDeleted() {
			pendingLFN = nil
			continue
		}

		if raw.IsLFNChunk() {
			lfn := DecodeRawLFNEntry(mustSlotBuffer(it, cluster, localIndex))
			if lfn.IsLast() {
				pendingLFN = []RawLFNEntry{lfn}
			} else {
				pendingLFN = append(pendingLFN, lfn)
			}
			continue
		}

		if raw.IsVolumeLabel() {
			pendingLFN = nil
			continue
		}

		dirent, err := NewDirentFromShort(raw, cluster, int(localIndex))
		if err != nil {
			return Dirent{}, err
		}

		if len(pendingLFN) > 0 {
			checksum := raw.ShortNameView().Checksum()
			if name, ok := CoalesceLFNChunks(pendingLFN, checksum); ok {
				dirent.Name = DecodeUTF16LEName(name)
				dirent.HasLFN = true
				firstChunkGlobalIndex := slotIndex - uint(len(pendingLFN))
				nameCluster, nameLocalIndex, serr := it.slotLocation(firstChunkGlobalIndex)
				if serr == nil {
					dirent.NameCluster = nameCluster
					dirent.NameIndex = int(nameLocalIndex)
				}
			}
		}

		return dirent, nil
	}
}

// mustSlotBuffer re-reads the sector containing a slot already known to be
// valid, for extracting the raw LFN-chunk bytes after DecodeRawShortEntry
// already validated the slot isn't free/deleted.
func mustSlotBuffer(it *DirIterator, cluster uint32, localIndex uint) []byte {
	sector, offset, err := it.sectorForSlot(cluster, localIndex)
	if err != nil {
		return make([]byte, EntrySize)
	}
	buf, err := it.cache.Read(sector)
	if err != nil {
		return make([]byte, EntrySize)
	}
	out := make([]byte, EntrySize)
	copy(out, buf[offset:offset+EntrySize])
	return out
}

// Reset rewinds the iterator to the beginning of the directory.
func (it *DirIterator) Reset() {
	it.cluster = it.startCluster
	it.index = 0
}

// AllocateSlots locates (or creates) a run of n consecutive free slots and
// returns the cluster and local index of the run's first slot. If the
// directory's cluster chain is exhausted without finding a long-enough run,
// a new cluster is allocated, zero-filled and linked to the chain's tail,
// and the scan continues into it, so the returned run may begin in the
// free slots at the end of the previous cluster.
func (it *DirIterator) AllocateSlots(n uint) (cluster uint32, index uint, err error) {
	runLength := uint(0)
	runStartGlobal := uint(0)
	globalIndex := uint(0)
	lastCluster := it.startCluster

	for {
		cl, localIndex, serr := it.slotLocation(globalIndex)
		if serr != nil {
			// Chain exhausted: allocate a new cluster and continue the scan
			// into it, since a zero-filled cluster is all free slots.
			newCluster, aerr := it.fat.Allocate(lastCluster)
			if aerr != nil {
				return 0, 0, aerr
			}
			if zerr := it.zeroFillCluster(newCluster); zerr != nil {
				return 0, 0, zerr
			}
			continue
		}

		raw, rerr := it.readSlot(cl, localIndex)
		if rerr != nil {
			return 0, 0, rerr
		}

		if raw.IsFree() || raw.IsDeleted() {
			if runLength == 0 {
				runStartGlobal = globalIndex
			}
			runLength++
			if runLength == n {
				return it.slotLocation(runStartGlobal)
			}
		} else {
			runLength = 0
		}

		lastCluster = cl
		globalIndex++
	}
}

func (it *DirIterator) zeroFillCluster(cluster uint32) error {
	buf := make([]byte, it.geometry.BytesPerCluster())
	return it.geometry.WriteCluster(cluster, buf)
}

// DecodeUTF16LEName converts a slice of UTF-16 code units (already
// NUL-terminated/trimmed by CoalesceLFNChunks) into a Go string via the
// charset package's x/text-backed transcoder. Falls back to the stdlib's
// surrogate-pair decoder only if the transcoder rejects the input (e.g. a
// lone surrogate left behind by a corrupt LFN chain), so a bad name never
// turns FetchNext into an error return.
func DecodeUTF16LEName(units []uint16) string {
	if name, err := charset.DecodeUnits(units); err == nil {
		return name
	}
	return string(utf16.Decode(units))
}
