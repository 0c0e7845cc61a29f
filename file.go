package fat32

import (
	"io"

	fatfs "github.com/dargueta/fat32/internal/fat"

	ferrors "github.com/dargueta/fat32/errors"
)

// File is a handle to an open file's data, returned by Volume.OpenFile. It
// holds its own pooled Context for the handle's lifetime, a deliberate
// departure from the strict per-call acquire/release of spec §5 in exchange
// for a cursor (FileDataPath) that can carry position state across calls
// without re-threading a cache reference through every read or write.
type File struct {
	volume *Volume
	ctx    *fatfs.Context
	node   fatfs.Node
	// dirCluster is the first cluster of the directory containing this
	// file's entry, distinct from node.ParentCluster (the specific cluster
	// holding the entry's own slot) -- patching the entry requires
	// rescanning the directory from its start, not the slot's cluster.
	dirCluster uint32
	mode       Mode
	data       *fatfs.FileDataPath
	closed     bool
}

func (f *File) checkOpen() error {
	if f.closed {
		return ferrors.ErrClosed
	}
	return nil
}

// Read fills buf from the file's current position, following the teacher's
// io.Reader convention: a short read with err == nil is not EOF, but
// reading zero bytes with err == io.EOF is.
func (f *File) Read(buf []byte) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if f.mode != ModeRead {
		return 0, ferrors.ErrAccessDenied.WithMessage("file not opened for reading")
	}

	n, err := f.data.Read(buf)
	if err != nil {
		return n, err
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes buf at the file's current position, growing the cluster
// chain as needed. The directory entry's first-cluster field is patched
// when the file gets its first cluster; its size field is written by Flush
// (and so by Close), not by Write.
func (f *File) Write(buf []byte) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if f.mode == ModeRead {
		return 0, ferrors.ErrAccessDenied.WithMessage("file not opened for writing")
	}

	f.volume.pool.ConsistencyMutex.Lock()
	n, err := f.data.Write(buf)
	f.volume.pool.ConsistencyMutex.Unlock()
	if err != nil {
		return n, err
	}

	if f.node.FirstCluster == 0 && f.data.FirstCluster != 0 {
		f.node.FirstCluster = f.data.FirstCluster
		if perr := f.volume.patchEntryCluster(f.ctx, f.dirCluster, f.node.Name, f.node.FirstCluster); perr != nil {
			return n, perr
		}
	}
	f.node.Size = f.data.Size

	return n, nil
}

// Seek repositions the file's read/write cursor.
func (f *File) Seek(offset int64, origin SeekOrigin) (int64, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	return f.data.Seek(offset, fatfs.SeekOrigin(origin))
}

// Tell returns the file's current position.
func (f *File) Tell() int64 {
	return int64(f.data.Position)
}

// Eof reports whether the cursor is at the end of the file's data.
func (f *File) Eof() bool {
	return f.data.Position >= f.data.Size
}

// Stat reports the file's current size and type.
func (f *File) Stat() FileStat {
	return FileStat{
		Type: classify(f.node.Attr),
		Size: int64(f.data.Size),
	}
}

// Flush writes the file's current size back to its directory entry without
// closing the handle.
func (f *File) Flush() error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if f.mode == ModeRead {
		return nil
	}

	f.volume.pool.ConsistencyMutex.Lock()
	defer f.volume.pool.ConsistencyMutex.Unlock()
	return f.volume.patchEntrySize(f.ctx, f.dirCluster, f.node.Name, f.data.Size)
}

// Close flushes pending metadata and releases the handle's pooled context.
// The handle must not be used again afterward.
func (f *File) Close() error {
	if f.closed {
		return nil
	}

	var err error
	if f.mode != ModeRead {
		err = f.Flush()
	}

	f.closed = true
	f.volume.pool.Release(f.ctx)
	v := f.volume
	v.releaseFile(f)
	return err
}
