// FileDataPath implements read/write/seek over a payload cluster chain.
// Grounded on the sector/cluster arithmetic of
// github.com/dargueta/disko's drivers/fat/driverbase.go
// (readSectorsInCluster, getClusterInChain), generalized with burst I/O for
// aligned runs and read-modify-write at unaligned boundaries, and extended
// to writing (the teacher's FATDriver is read-only).
package fat

import (
	"github.com/dargueta/fat32/internal/blockio"

	ferrors "github.com/dargueta/fat32/errors"
)

// SeekOrigin mirrors the three POSIX seek origins.
type SeekOrigin int

const (
	SeekSet SeekOrigin = iota
	SeekCur
	SeekEnd
)

// FileDataPath is the read/write cursor over one file's cluster chain.
type FileDataPath struct {
	geometry *blockio.Geometry
	cache    *blockio.SectorCache
	fat      *FatTable

	FirstCluster   uint32
	currentCluster uint32
	Position       uint32
	Size           uint32
	Dirty          bool
}

// NewFileDataPath creates a cursor positioned at the start of the file
// described by firstCluster/size.
func NewFileDataPath(geometry *blockio.Geometry, cache *blockio.SectorCache, fat *FatTable, firstCluster, size uint32) *FileDataPath {
	return &FileDataPath{
		geometry:       geometry,
		cache:          cache,
		fat:            fat,
		FirstCluster:   firstCluster,
		currentCluster: firstCluster,
		Size:           size,
	}
}

func (f *FileDataPath) bytesPerCluster() uint32 { return uint32(f.geometry.BytesPerCluster()) }

// clusterHopsFrom follows the FAT chain forward hops clusters starting
// from.
func (f *FileDataPath) clusterHopsFrom(start uint32, hops uint32) (uint32, error) {
	cluster := start
	for i := uint32(0); i < hops; i++ {
		state, next, err := f.fat.GetNext(cluster)
		if err != nil {
			return 0, err
		}
		if state != ClusterNext {
			return 0, ferrors.ErrIO.WithMessage("cluster chain ended before expected position")
		}
		cluster = next
	}
	return cluster, nil
}

// Read fills buf, reading at most len(buf) bytes, clamped to the remaining
// file size. It returns the number of bytes read; a short read with no
// error means EOF was reached.
func (f *FileDataPath) Read(buf []byte) (int, error) {
	remaining := f.Size - f.Position
	want := uint32(len(buf))
	if want > remaining {
		want = remaining
	}
	if want == 0 {
		return 0, nil
	}

	bytesPerCluster := f.bytesPerCluster()
	bytesPerSector := uint32(f.geometry.BytesPerSector)

	// At a cluster boundary the cursor still names the cluster holding the
	// byte before Position (see Seek), so step into the next one first.
	if f.Position > 0 && f.Position%bytesPerCluster == 0 {
		state, next, err := f.fat.GetNext(f.currentCluster)
		if err != nil {
			return 0, err
		}
		if state != ClusterNext {
			return 0, nil
		}
		f.currentCluster = next
	}

	read := uint32(0)
	for read < want {
		offsetInCluster := f.Position % bytesPerCluster
		sectorInCluster := offsetInCluster / bytesPerSector
		offsetInSector := offsetInCluster % bytesPerSector

		firstSector, err := f.geometry.ClusterToSector(f.currentCluster)
		if err != nil {
			return int(read), err
		}
		sector := firstSector + sectorInCluster

		remainingInRequest := want - read
		remainingInSector := bytesPerSector - offsetInSector

		if offsetInSector != 0 || remainingInRequest < bytesPerSector {
			chunk := remainingInSector
			if chunk > remainingInRequest {
				chunk = remainingInRequest
			}
			sbuf, rerr := f.cache.Read(sector)
			if rerr != nil {
				return int(read), ferrors.ErrIO.Wrap(rerr)
			}
			copy(buf[read:read+chunk], sbuf[offsetInSector:offsetInSector+chunk])
			read += chunk
			f.Position += chunk
		} else {
			sectorsLeftInCluster := (bytesPerCluster / bytesPerSector) - sectorInCluster
			burstSectors := remainingInRequest / bytesPerSector
			if burstSectors > sectorsLeftInCluster {
				burstSectors = sectorsLeftInCluster
			}
			if burstSectors == 0 {
				sbuf, rerr := f.cache.Read(sector)
				if rerr != nil {
					return int(read), ferrors.ErrIO.Wrap(rerr)
				}
				chunk := remainingInRequest
				if chunk > bytesPerSector {
					chunk = bytesPerSector
				}
				copy(buf[read:read+chunk], sbuf[:chunk])
				read += chunk
				f.Position += chunk
			} else {
				n := burstSectors * bytesPerSector
				if err := f.geometry.Device.ReadSectors(sector, uint(burstSectors), buf[read:read+n]); err != nil {
					return int(read), ferrors.ErrIO.Wrap(err)
				}
				read += n
				f.Position += n
			}
		}

		if f.Position%bytesPerCluster == 0 && read < want {
			state, next, err := f.fat.GetNext(f.currentCluster)
			if err != nil {
				return int(read), err
			}
			if state != ClusterNext {
				// EOC reached mid-read: the size invariant says this
				// shouldn't happen, but return what we have rather than
				// fail the caller's already-successful partial read.
				return int(read), nil
			}
			f.currentCluster = next
		}
	}

	return int(read), nil
}

// Write writes buf to the file at the current position, allocating new
// clusters as needed. It updates Size and marks the cursor dirty.
func (f *FileDataPath) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	if f.FirstCluster == 0 {
		newCluster, err := f.fat.Allocate(0)
		if err != nil {
			return 0, err
		}
		f.FirstCluster = newCluster
		f.currentCluster = newCluster
	}

	const maxFileSize = 0xFFFFFFFF
	maxWritable := uint32(maxFileSize - f.Position)
	want := uint32(len(buf))
	if want > maxWritable {
		want = maxWritable
	}

	bytesPerCluster := f.bytesPerCluster()
	bytesPerSector := uint32(f.geometry.BytesPerSector)

	// At a cluster boundary the cursor still names the cluster holding the
	// byte before Position (see Seek), so step into (or allocate) the next.
	if f.Position > 0 && f.Position%bytesPerCluster == 0 {
		state, next, err := f.fat.GetNext(f.currentCluster)
		if err != nil {
			return 0, err
		}
		if state != ClusterNext {
			if next, err = f.fat.Allocate(f.currentCluster); err != nil {
				return 0, err
			}
		}
		f.currentCluster = next
	}

	written := uint32(0)
	for written < want {
		offsetInCluster := f.Position % bytesPerCluster
		sectorInCluster := offsetInCluster / bytesPerSector
		offsetInSector := offsetInCluster % bytesPerSector

		firstSector, err := f.geometry.ClusterToSector(f.currentCluster)
		if err != nil {
			return int(written), err
		}
		sector := firstSector + sectorInCluster

		remainingInRequest := want - written
		remainingInSector := bytesPerSector - offsetInSector

		if offsetInSector != 0 || remainingInRequest < bytesPerSector {
			chunk := remainingInSector
			if chunk > remainingInRequest {
				chunk = remainingInRequest
			}
			sbuf, rerr := f.cache.Read(sector)
			if rerr != nil {
				return int(written), ferrors.ErrIO.Wrap(rerr)
			}
			copy(sbuf[offsetInSector:offsetInSector+chunk], buf[written:written+chunk])
			if werr := f.cache.Write(sector); werr != nil {
				return int(written), ferrors.ErrIO.Wrap(werr)
			}
			written += chunk
			f.Position += chunk
		} else {
			sectorsLeftInCluster := (bytesPerCluster / bytesPerSector) - sectorInCluster
			burstSectors := remainingInRequest / bytesPerSector
			if burstSectors > sectorsLeftInCluster {
				burstSectors = sectorsLeftInCluster
			}
			if burstSectors == 0 {
				chunk := remainingInRequest
				if chunk > bytesPerSector {
					chunk = bytesPerSector
				}
				sbuf, rerr := f.cache.Read(sector)
				if rerr != nil {
					return int(written), ferrors.ErrIO.Wrap(rerr)
				}
				copy(sbuf[:chunk], buf[written:written+chunk])
				if werr := f.cache.Write(sector); werr != nil {
					return int(written), ferrors.ErrIO.Wrap(werr)
				}
				written += chunk
				f.Position += chunk
			} else {
				n := burstSectors * bytesPerSector
				if err := f.geometry.Device.WriteSectors(sector, uint(burstSectors), buf[written:written+n]); err != nil {
					return int(written), ferrors.ErrIO.Wrap(err)
				}
				written += n
				f.Position += n
			}
		}

		if f.Position%bytesPerCluster == 0 && written < want {
			state, next, err := f.fat.GetNext(f.currentCluster)
			if err != nil {
				return int(written), err
			}
			if state != ClusterNext {
				newCluster, aerr := f.fat.Allocate(f.currentCluster)
				if aerr != nil {
					return int(written), aerr
				}
				next = newCluster
			}
			f.currentCluster = next
		}
	}

	if f.Position > f.Size {
		f.Size = f.Position
	}
	f.Dirty = true
	return int(written), nil
}

// Seek moves the cursor, following the chain forward from FirstCluster
// (target before current position) or forward from currentCluster
// (target after), hopping the fewest clusters possible either way.
func (f *FileDataPath) Seek(offset int64, origin SeekOrigin) (int64, error) {
	var target int64
	switch origin {
	case SeekSet:
		target = offset
	case SeekCur:
		target = int64(f.Position) + offset
	case SeekEnd:
		target = int64(f.Size) + offset
	default:
		return 0, ferrors.ErrInvalid.WithMessage("unknown seek origin")
	}

	if target < 0 || target > int64(f.Size) {
		return 0, ferrors.ErrInvalid.WithMessage("seek target out of range")
	}

	bytesPerCluster := int64(f.bytesPerCluster())

	if target == 0 {
		f.currentCluster = f.FirstCluster
		f.Position = 0
		return 0, nil
	}

	// The cursor keeps the cluster holding the byte before Position, i.e.
	// index (target-1)/bytesPerCluster. That differs from the cluster of
	// byte target only when target lands exactly on a cluster boundary
	// (including target == Size), where target/bytesPerCluster would walk
	// one cluster past the chain's last allocated (EOC) cluster; Read and
	// Write step into the next cluster themselves when they start there.
	targetClusterIndex := (target - 1) / bytesPerCluster

	if uint32(target) < f.Position {
		cluster, err := f.clusterHopsFrom(f.FirstCluster, uint32(targetClusterIndex))
		if err != nil {
			return 0, err
		}
		f.currentCluster = cluster
	} else {
		currentClusterIndex := int64(0)
		if f.Position > 0 {
			currentClusterIndex = int64(f.Position-1) / bytesPerCluster
		}
		hops := targetClusterIndex - currentClusterIndex
		if hops > 0 {
			cluster, err := f.clusterHopsFrom(f.currentCluster, uint32(hops))
			if err != nil {
				return 0, err
			}
			f.currentCluster = cluster
		}
	}

	f.Position = uint32(target)
	return target, nil
}

// Truncate frees the entire cluster chain and resets the cursor to an
// empty file. The caller is responsible for flushing the updated directory
// entry afterward.
func (f *FileDataPath) Truncate() error {
	if err := f.fat.FreeChain(f.FirstCluster); err != nil {
		return err
	}
	f.FirstCluster = 0
	f.currentCluster = 0
	f.Position = 0
	f.Size = 0
	f.Dirty = true
	return nil
}

// CurrentCluster exposes the cursor's cluster, for diagnostics: the cluster
// containing Position, or, when Position sits exactly on a cluster boundary
// past the start of the file, the cluster holding the byte before it.
func (f *FileDataPath) CurrentCluster() uint32 { return f.currentCluster }
