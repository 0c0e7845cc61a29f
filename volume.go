// Package fat32 implements a read/write FAT32 filesystem engine over an
// abstract, sector-granular block device. Volume is the mount handle;
// File and Dir are the public handles opened against it.
//
// Adapted in spirit from github.com/dargueta/disko's
// drivers/common/basedriver.CommonDriver -- one struct owning all mutable
// state for a mounted filesystem -- generalized from disko's
// multi-filesystem abstraction down to the single FAT32 engine this module
// implements, with the concurrency model of §5 (pool of per-operation
// contexts + consistency/memory mutexes) wired in directly rather than left
// to a generic driver interface.
package fat32

import (
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/dargueta/fat32/charset"
	fatfs "github.com/dargueta/fat32/internal/fat"

	"github.com/dargueta/fat32/internal/blockio"

	ferrors "github.com/dargueta/fat32/errors"
)

// encodeUTF16 converts name to the UTF-16LE code units an LFN chunk group
// stores, going through the charset package's x/text transcoder (the
// utf8_to_utf16le utility boundary) rather than a bare rune-to-uint16 cast,
// mirroring the decode side in internal/fat's DecodeUTF16LEName. Falls back
// to the stdlib cast only if the transcoder rejects the name outright.
func encodeUTF16(name string) []uint16 {
	if units, err := charset.EncodeUnits(name); err == nil {
		return units
	}
	return utf16.Encode([]rune(name))
}

// Volume is a mounted FAT32 filesystem.
type Volume struct {
	device   BlockDevice
	geometry *blockio.Geometry
	boot     *fatfs.BootSector
	fat      *fatfs.FatTable
	pool     *fatfs.Pool
	config   Config
	closed   bool

	// filePool/dirPool back Config.EnablePools: a sync.Pool of
	// handle structs reused across OpenFile/OpenDir + Close instead of a
	// fresh heap allocation per open. Left zero-value (and unused) when
	// EnablePools is false, in which case OpenFile/OpenDir fall back to a
	// plain composite literal.
	filePool sync.Pool
	dirPool  sync.Pool
}

// Mount reads the boot sector and FSInfo sector from device, validates the
// volume's geometry, and returns a ready-to-use Volume.
func Mount(device BlockDevice, config Config) (*Volume, error) {
	sectorExponent := config.SectorExponent
	if sectorExponent == 0 {
		sectorExponent = 9
	}
	if sectorExponent < 9 || sectorExponent > 12 {
		return nil, ferrors.ErrInvalid.WithMessage("SectorExponent must be in 9..12")
	}

	// One whole sector of the configured size, as BlockDevice requires.
	bootBuf := make([]byte, 1<<sectorExponent)
	if err := device.ReadSectors(0, 1, bootBuf); err != nil {
		return nil, ferrors.ErrIO.Wrap(err)
	}

	boot, err := fatfs.ParseBootSector(bootBuf)
	if err != nil {
		return nil, err
	}

	if boot.BytesPerSector != 1<<sectorExponent {
		return nil, ferrors.ErrInvalid.WithMessage(
			"boot sector's BytesPerSector does not match the configured SectorExponent")
	}

	geometry := &blockio.Geometry{
		Device:            device,
		BytesPerSector:    boot.BytesPerSector,
		SectorsPerCluster: boot.SectorsPerCluster,
		FirstDataSector:   boot.FirstDataSector,
		TotalClusters:     boot.TotalClusters,
	}

	bootstrapCache := blockio.NewSectorCache(geometry)
	fsInfoSector := uint32(boot.FSInfoSector)
	fsInfoBuf, err := bootstrapCache.Read(fsInfoSector)
	if err != nil {
		return nil, ferrors.ErrIO.Wrap(err)
	}

	info, err := fatfs.ParseFSInfo(fsInfoBuf)
	if err != nil {
		return nil, err
	}

	fatTable := fatfs.NewFatTable(geometry, bootstrapCache, boot, fsInfoSector)
	if err := fatTable.RebuildFreeBitmap(); err != nil {
		return nil, err
	}
	fatTable.SeedAllocatorCursor(info.NextFreeCluster)

	poolSize := config.PoolSize
	if !config.EnableThreads {
		poolSize = 1
	} else if poolSize == 0 {
		poolSize = 4
	}

	v := &Volume{
		device:   device,
		geometry: geometry,
		boot:     boot,
		fat:      fatTable,
		pool:     fatfs.NewPool(geometry, poolSize),
		config:   config,
	}
	if config.EnablePools {
		v.filePool.New = func() any { return new(File) }
		v.dirPool.New = func() any { return new(Dir) }
	}
	return v, nil
}

// newFile returns a zeroed *File, drawn from filePool when Config.EnablePools
// is set and heap-allocated otherwise.
func (v *Volume) newFile() *File {
	if !v.config.EnablePools {
		return &File{}
	}
	return v.filePool.Get().(*File)
}

// releaseFile returns f to filePool when Config.EnablePools is set; a no-op
// (letting the garbage collector reclaim it) otherwise.
func (v *Volume) releaseFile(f *File) {
	if !v.config.EnablePools {
		return
	}
	*f = File{}
	v.filePool.Put(f)
}

// newDir returns a zeroed *Dir, drawn from dirPool when Config.EnablePools
// is set and heap-allocated otherwise.
func (v *Volume) newDir() *Dir {
	if !v.config.EnablePools {
		return &Dir{}
	}
	return v.dirPool.Get().(*Dir)
}

// releaseDir returns d to dirPool when Config.EnablePools is set; a no-op
// otherwise.
func (v *Volume) releaseDir(d *Dir) {
	if !v.config.EnablePools {
		return
	}
	*d = Dir{}
	v.dirPool.Put(d)
}

// Unmount flushes the FSInfo sector and marks the volume closed. Any open
// File/Dir handles become invalid; the caller is responsible for closing
// them first.
func (v *Volume) Unmount() error {
	if v.closed {
		return nil
	}
	err := v.pool.WithWriteLock(func(ctx *fatfs.Context) error {
		return v.fat.FlushFSInfo()
	})
	v.closed = true
	return err
}

func (v *Volume) checkOpen() error {
	if v.closed {
		return ferrors.ErrIO.WithMessage("volume is not mounted")
	}
	return nil
}

func (v *Volume) resolve(ctx *fatfs.Context, path string) (fatfs.Node, error) {
	resolver := fatfs.NewPathResolver(v.geometry, ctx.Cache, v.fat, v.boot.RootCluster)
	return resolver.Resolve(path)
}

// VolumeLabel returns the volume label recorded in the boot sector's
// extended BPB, trimmed of padding.
func (v *Volume) VolumeLabel() string {
	return v.boot.VolumeLabel
}

// FreeClusters returns the engine's current free-cluster count, maintained
// incrementally rather than rescanned on every call.
func (v *Volume) FreeClusters() uint {
	return v.fat.FreeClusterCount()
}

// Stat resolves path and reports its type, size, and last-accessed time.
func (v *Volume) Stat(path string) (FileStat, error) {
	if err := v.checkOpen(); err != nil {
		return FileStat{}, err
	}

	var result FileStat
	err := v.pool.WithContext(func(ctx *fatfs.Context) error {
		node, rerr := v.resolve(ctx, path)
		if rerr != nil {
			return rerr
		}
		result = FileStat{
			Type:         classify(node.Attr),
			Size:         int64(node.Size),
			LastAccessed: node.Created.LastAccessed,
		}
		return nil
	})
	return result, err
}

func classify(attr uint8) ObjectType {
	if attr&fatfs.AttrDirectory != 0 {
		return TypeDir
	}
	return TypeFile
}

// OpenDir resolves path to a directory and returns a handle for listing it.
func (v *Volume) OpenDir(path string) (*Dir, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}

	ctx := v.pool.Acquire()
	node, err := v.resolve(ctx, path)
	if err != nil {
		v.pool.Release(ctx)
		return nil, err
	}
	if node.Attr&fatfs.AttrDirectory == 0 {
		v.pool.Release(ctx)
		return nil, ferrors.ErrNotADirectory.WithMessage(path)
	}

	d := v.newDir()
	d.volume = v
	d.ctx = ctx
	d.iter = fatfs.NewDirIterator(v.geometry, ctx.Cache, v.fat, node.FirstCluster)
	d.closed = false
	return d, nil
}

// OpenFile resolves path and returns a handle in the requested mode,
// creating or truncating the file as the mode's state machine requires.
func (v *Volume) OpenFile(path string, mode Mode) (*File, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	if mode != ModeRead && !v.config.EnableWrite {
		return nil, ferrors.ErrAccessDenied.WithMessage("volume mounted without write support")
	}

	ctx := v.pool.Acquire()

	parentPath, _ := fatfs.ParentDir(path)

	node, err := v.resolve(ctx, path)
	switch {
	case err == nil:
		if node.Attr&fatfs.AttrDirectory != 0 {
			v.pool.Release(ctx)
			return nil, ferrors.ErrIsDirectory.WithMessage(path)
		}
		if mode == ModeRead && node.Attr&fatfs.AttrSystem != 0 {
			v.pool.Release(ctx)
			return nil, ferrors.ErrAccessDenied.WithMessage(path)
		}
		if mode != ModeRead && node.Attr&fatfs.AttrReadOnly != 0 {
			v.pool.Release(ctx)
			return nil, ferrors.ErrAccessDenied.WithMessage(path)
		}
	case isNotFound(err):
		if mode == ModeRead {
			v.pool.Release(ctx)
			return nil, err
		}
		created, cerr := v.createFileLocked(ctx, path)
		if cerr != nil {
			v.pool.Release(ctx)
			return nil, cerr
		}
		node = created
	default:
		v.pool.Release(ctx)
		return nil, err
	}

	parent, perr := v.resolve(ctx, parentPath)
	if perr != nil {
		v.pool.Release(ctx)
		return nil, perr
	}

	data := fatfs.NewFileDataPath(v.geometry, ctx.Cache, v.fat, node.FirstCluster, node.Size)

	f := v.newFile()
	f.volume = v
	f.ctx = ctx
	f.node = node
	f.dirCluster = parent.FirstCluster
	f.mode = mode
	f.data = data
	f.closed = false

	if mode == ModeWrite {
		v.pool.ConsistencyMutex.Lock()
		terr := data.Truncate()
		if terr == nil && node.FirstCluster != 0 {
			// The freed chain must no longer be referenced by the entry.
			terr = v.patchEntryCluster(ctx, f.dirCluster, node.Name, 0)
			f.node.FirstCluster = 0
		}
		v.pool.ConsistencyMutex.Unlock()
		if terr != nil {
			v.pool.Release(ctx)
			v.releaseFile(f)
			return nil, terr
		}
	} else if mode == ModeAppend {
		if _, serr := data.Seek(0, fatfs.SeekEnd); serr != nil {
			v.pool.Release(ctx)
			v.releaseFile(f)
			return nil, serr
		}
	}

	return f, nil
}

func isNotFound(err error) bool {
	_, ok := err.(*fatfs.NotFoundError)
	return ok
}

func (v *Volume) createFileLocked(ctx *fatfs.Context, path string) (fatfs.Node, error) {
	parentPath, name := fatfs.ParentDir(path)

	var node fatfs.Node
	err := func() error {
		v.pool.ConsistencyMutex.Lock()
		defer v.pool.ConsistencyMutex.Unlock()

		parent, perr := v.resolve(ctx, parentPath)
		if perr != nil {
			return perr
		}
		if parent.Attr&fatfs.AttrDirectory == 0 {
			return ferrors.ErrNotADirectory.WithMessage(parentPath)
		}

		created, cerr := v.createEntry(ctx, parent.FirstCluster, name, 0)
		if cerr != nil {
			return cerr
		}
		node = created
		return nil
	}()
	return node, err
}

// createEntry allocates directory slots for name under parentCluster and
// writes its short (and, if needed, LFN) entry with the given attribute
// bits. It must be called with ConsistencyMutex already held.
func (v *Volume) createEntry(ctx *fatfs.Context, parentCluster uint32, name string, attr uint8) (fatfs.Node, error) {
	iter := fatfs.NewDirIterator(v.geometry, ctx.Cache, v.fat, parentCluster)

	exists := func(candidate fatfs.ShortName) (bool, error) {
		scan := fatfs.NewDirIterator(v.geometry, ctx.Cache, v.fat, parentCluster)
		for {
			d, err := scan.FetchNext()
			if err != nil {
				if _, ok := err.(fatfs.EndOfDir); ok {
					return false, nil
				}
				return false, err
			}
			if d.ShortName == candidate {
				return true, nil
			}
		}
	}

	shortName, needsLFN, err := fatfs.DeriveShortName(name, exists)
	if err != nil {
		return fatfs.Node{}, err
	}
	if needsLFN && !v.config.EnableLFN {
		return fatfs.Node{}, ferrors.ErrInvalid.WithMessage("name requires long-name support, which is disabled")
	}

	var chunks []fatfs.RawLFNEntry
	if needsLFN {
		chunks = fatfs.BuildLFNChunks(encodeUTF16(name), shortName.Checksum())
	}

	slotCount := uint(len(chunks) + 1)
	cluster, index, err := iter.AllocateSlots(slotCount)
	if err != nil {
		return fatfs.Node{}, err
	}

	now := v.now()
	short := fatfs.RawShortEntry{
		Name:           shortName,
		Attr:           attr,
		CreateDate:     fatfs.ToFATDate(now),
		CreateTime:     fatfs.ToFATTime(now),
		LastAccessDate: fatfs.ToFATDate(now),
		WriteDate:      fatfs.ToFATDate(now),
		WriteTime:      fatfs.ToFATTime(now),
	}

	if err := v.writeEntryGroup(ctx, cluster, index, chunks, short); err != nil {
		return fatfs.Node{}, err
	}

	shortIndex := index + uint(len(chunks))

	return fatfs.Node{
		ParentCluster: cluster,
		ParentIndex:   int(shortIndex),
		NameCluster:   cluster,
		NameIndex:     int(index),
		FirstCluster:  0,
		Size:          0,
		Attr:          attr,
		Name:          name,
	}, nil
}

// writeEntryGroup serializes the LFN chunks followed by the short entry
// into consecutive slots starting at (cluster, index). Slots never cross a
// cluster boundary without following the FAT chain, mirroring DirIterator's
// own addressing.
func (v *Volume) writeEntryGroup(ctx *fatfs.Context, cluster uint32, index uint, chunks []fatfs.RawLFNEntry, short fatfs.RawShortEntry) error {
	entriesPerSector := v.geometry.BytesPerSector / fatfs.EntrySize
	slots := make([][]byte, 0, len(chunks)+1)
	for _, c := range chunks {
		buf := make([]byte, fatfs.EntrySize)
		c.Encode(buf)
		slots = append(slots, buf)
	}
	shortBuf := make([]byte, fatfs.EntrySize)
	short.Encode(shortBuf)
	slots = append(slots, shortBuf)

	currentCluster := cluster
	localIndex := index

	for _, slot := range slots {
		sectorInCluster := localIndex / entriesPerSector
		offsetInSector := (localIndex % entriesPerSector) * fatfs.EntrySize

		firstSector, err := v.geometry.ClusterToSector(currentCluster)
		if err != nil {
			return err
		}
		sector := firstSector + uint32(sectorInCluster)

		buf, err := ctx.Cache.Read(sector)
		if err != nil {
			return ferrors.ErrIO.Wrap(err)
		}
		copy(buf[offsetInSector:offsetInSector+fatfs.EntrySize], slot)
		if err := ctx.Cache.Write(sector); err != nil {
			return ferrors.ErrIO.Wrap(err)
		}

		localIndex++
		entriesPerClust := v.geometry.BytesPerCluster() / fatfs.EntrySize
		if localIndex >= entriesPerClust {
			state, next, gerr := v.fat.GetNext(currentCluster)
			if gerr != nil {
				return gerr
			}
			if state != fatfs.ClusterNext {
				return ferrors.ErrIO.WithMessage("directory cluster chain ended while writing entry group")
			}
			currentCluster = next
			localIndex = 0
		}
	}

	return nil
}

func (v *Volume) now() time.Time {
	if v.config.EnableTime && v.config.Clock != nil {
		return v.config.Clock.Now()
	}
	return time.Time{}
}

// MakeDir creates a new directory at path. The parent must exist and the
// name must not already be present.
func (v *Volume) MakeDir(path string) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	if !v.config.EnableWrite {
		return ferrors.ErrAccessDenied.WithMessage("volume mounted without write support")
	}

	return v.pool.WithContext(func(ctx *fatfs.Context) error {
		if _, err := v.resolve(ctx, path); err == nil {
			return ferrors.ErrAlreadyExists.WithMessage(path)
		} else if !isNotFound(err) {
			return err
		}

		parentPath, name := fatfs.ParentDir(path)

		v.pool.ConsistencyMutex.Lock()
		defer v.pool.ConsistencyMutex.Unlock()

		parent, perr := v.resolve(ctx, parentPath)
		if perr != nil {
			return perr
		}

		newCluster, aerr := v.fat.Allocate(0)
		if aerr != nil {
			return aerr
		}
		zeroBuf := make([]byte, v.geometry.BytesPerCluster())
		if werr := v.geometry.WriteCluster(newCluster, zeroBuf); werr != nil {
			return ferrors.ErrIO.Wrap(werr)
		}

		now := v.now()
		dotEntry := fatfs.RawShortEntry{
			Name:       fatfs.ShortName{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '},
			Attr:       fatfs.AttrDirectory,
			CreateDate: fatfs.ToFATDate(now),
			WriteDate:  fatfs.ToFATDate(now),
		}
		dotEntry.SetFirstCluster(newCluster)

		dotDotCluster := parent.FirstCluster
		if parentPath == "" {
			dotDotCluster = 0
		}
		dotDotEntry := fatfs.RawShortEntry{
			Name:       fatfs.ShortName{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '},
			Attr:       fatfs.AttrDirectory,
			CreateDate: fatfs.ToFATDate(now),
			WriteDate:  fatfs.ToFATDate(now),
		}
		dotDotEntry.SetFirstCluster(dotDotCluster)

		if err := v.writeEntryGroup(ctx, newCluster, 0, nil, dotEntry); err != nil {
			return err
		}
		if err := v.writeEntryGroup(ctx, newCluster, 1, nil, dotDotEntry); err != nil {
			return err
		}

		if _, cerr := v.createEntry(ctx, parent.FirstCluster, name, fatfs.AttrDirectory); cerr != nil {
			return cerr
		}

		// createEntry wrote a 0-cluster short entry; patch in the real
		// cluster it points to.
		return v.patchEntryCluster(ctx, parent.FirstCluster, name, newCluster)
	})
}

func (v *Volume) patchEntryCluster(ctx *fatfs.Context, parentCluster uint32, name string, cluster uint32) error {
	it := fatfs.NewDirIterator(v.geometry, ctx.Cache, v.fat, parentCluster)
	target := strings.ToUpper(name)
	for {
		d, err := it.FetchNext()
		if err != nil {
			if _, ok := err.(fatfs.EndOfDir); ok {
				return ferrors.ErrNotFound.WithMessage(name)
			}
			return err
		}
		if strings.ToUpper(d.Name) == target || strings.ToUpper(d.ShortName.String()) == target {
			sector, offset, serr := v.slotSector(d.ParentCluster, uint(d.ParentIndex))
			if serr != nil {
				return serr
			}
			buf, rerr := ctx.Cache.Read(sector)
			if rerr != nil {
				return ferrors.ErrIO.Wrap(rerr)
			}
			entry := fatfs.DecodeRawShortEntry(buf[offset : offset+fatfs.EntrySize])
			entry.SetFirstCluster(cluster)
			entry.Encode(buf[offset : offset+fatfs.EntrySize])
			if werr := ctx.Cache.Write(sector); werr != nil {
				return ferrors.ErrIO.Wrap(werr)
			}
			return nil
		}
	}
}

func (v *Volume) slotSector(cluster uint32, index uint) (sector uint32, offset uint32, err error) {
	entriesPerSector := v.geometry.BytesPerSector / fatfs.EntrySize
	sectorInCluster := index / entriesPerSector
	offsetInSector := (index % entriesPerSector) * fatfs.EntrySize

	first, cerr := v.geometry.ClusterToSector(cluster)
	if cerr != nil {
		return 0, 0, cerr
	}
	return first + uint32(sectorInCluster), uint32(offsetInSector), nil
}

// Remove deletes a file. It is an error to call this on a directory; use
// RemoveDir instead.
func (v *Volume) Remove(path string) error {
	return v.removeEntry(path, false)
}

// RemoveDir deletes an empty directory (containing only "." and "..").
func (v *Volume) RemoveDir(path string) error {
	return v.removeEntry(path, true)
}

func (v *Volume) removeEntry(path string, mustBeDir bool) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	if !v.config.EnableWrite {
		return ferrors.ErrAccessDenied.WithMessage("volume mounted without write support")
	}

	return v.pool.WithContext(func(ctx *fatfs.Context) error {
		v.pool.ConsistencyMutex.Lock()
		defer v.pool.ConsistencyMutex.Unlock()

		node, err := v.resolve(ctx, path)
		if err != nil {
			return err
		}

		isDir := node.Attr&fatfs.AttrDirectory != 0
		if mustBeDir && !isDir {
			return ferrors.ErrNotADirectory.WithMessage(path)
		}
		if !mustBeDir && isDir {
			return ferrors.ErrIsDirectory.WithMessage(path)
		}

		if isDir {
			empty, eerr := v.directoryIsEmpty(ctx, node.FirstCluster)
			if eerr != nil {
				return eerr
			}
			if !empty {
				return ferrors.ErrNotEmpty.WithMessage(path)
			}
		}

		if err := v.fat.FreeChain(node.FirstCluster); err != nil {
			return err
		}

		return v.markEntryDeleted(ctx, node)
	})
}

func (v *Volume) directoryIsEmpty(ctx *fatfs.Context, cluster uint32) (bool, error) {
	it := fatfs.NewDirIterator(v.geometry, ctx.Cache, v.fat, cluster)
	count := 0
	for {
		d, err := it.FetchNext()
		if err != nil {
			if _, ok := err.(fatfs.EndOfDir); ok {
				return count <= 2, nil
			}
			return false, err
		}
		if d.Name != "." && d.Name != ".." {
			return false, nil
		}
		count++
	}
}

// markEntryDeleted sets the deleted marker on the short entry and every
// preceding LFN chunk belonging to node, walking from NameCluster/NameIndex
// through to ParentCluster/ParentIndex, following the FAT chain across
// cluster boundaries as required.
func (v *Volume) markEntryDeleted(ctx *fatfs.Context, node fatfs.Node) error {
	cluster := node.NameCluster
	index := uint(node.NameIndex)
	entriesPerClust := v.geometry.BytesPerCluster() / fatfs.EntrySize

	for {
		sector, offset, err := v.slotSector(cluster, index)
		if err != nil {
			return err
		}
		buf, rerr := ctx.Cache.Read(sector)
		if rerr != nil {
			return ferrors.ErrIO.Wrap(rerr)
		}
		buf[offset] = 0xE5
		if werr := ctx.Cache.Write(sector); werr != nil {
			return ferrors.ErrIO.Wrap(werr)
		}

		if cluster == node.ParentCluster && int(index) == node.ParentIndex {
			return nil
		}

		index++
		if index >= entriesPerClust {
			state, next, gerr := v.fat.GetNext(cluster)
			if gerr != nil {
				return gerr
			}
			if state != fatfs.ClusterNext {
				return ferrors.ErrIO.WithMessage("directory chain ended while deleting entry group")
			}
			cluster = next
			index = 0
		}
	}
}

// Move renames/relocates src to dst, which must not already exist. The
// generic create-then-delete path is used unconditionally, per this
// engine's choice not to special-case same-directory renames.
func (v *Volume) Move(src, dst string) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	if !v.config.EnableWrite {
		return ferrors.ErrAccessDenied.WithMessage("volume mounted without write support")
	}

	return v.pool.WithContext(func(ctx *fatfs.Context) error {
		v.pool.ConsistencyMutex.Lock()
		defer v.pool.ConsistencyMutex.Unlock()

		srcNode, err := v.resolve(ctx, src)
		if err != nil {
			return err
		}
		if _, err := v.resolve(ctx, dst); err == nil {
			return ferrors.ErrAlreadyExists.WithMessage(dst)
		} else if !isNotFound(err) {
			return err
		}

		dstParentPath, dstName := fatfs.ParentDir(dst)
		dstParent, perr := v.resolve(ctx, dstParentPath)
		if perr != nil {
			return perr
		}

		if _, cerr := v.createEntry(ctx, dstParent.FirstCluster, dstName, srcNode.Attr); cerr != nil {
			return cerr
		}
		if err := v.patchEntryCluster(ctx, dstParent.FirstCluster, dstName, srcNode.FirstCluster); err != nil {
			return err
		}
		if err := v.patchEntrySize(ctx, dstParent.FirstCluster, dstName, srcNode.Size); err != nil {
			return err
		}

		return v.markEntryDeleted(ctx, srcNode)
	})
}

func (v *Volume) patchEntrySize(ctx *fatfs.Context, parentCluster uint32, name string, size uint32) error {
	it := fatfs.NewDirIterator(v.geometry, ctx.Cache, v.fat, parentCluster)
	target := strings.ToUpper(name)
	for {
		d, err := it.FetchNext()
		if err != nil {
			if _, ok := err.(fatfs.EndOfDir); ok {
				return ferrors.ErrNotFound.WithMessage(name)
			}
			return err
		}
		if strings.ToUpper(d.Name) == target || strings.ToUpper(d.ShortName.String()) == target {
			sector, offset, serr := v.slotSector(d.ParentCluster, uint(d.ParentIndex))
			if serr != nil {
				return serr
			}
			buf, rerr := ctx.Cache.Read(sector)
			if rerr != nil {
				return ferrors.ErrIO.Wrap(rerr)
			}
			entry := fatfs.DecodeRawShortEntry(buf[offset : offset+fatfs.EntrySize])
			now := v.now()
			entry.FileSize = size
			entry.WriteDate = fatfs.ToFATDate(now)
			entry.WriteTime = fatfs.ToFATTime(now)
			entry.Encode(buf[offset : offset+fatfs.EntrySize])
			if werr := ctx.Cache.Write(sector); werr != nil {
				return ferrors.ErrIO.Wrap(werr)
			}
			return nil
		}
	}
}
