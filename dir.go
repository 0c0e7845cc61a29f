package fat32

import (
	"time"

	fatfs "github.com/dargueta/fat32/internal/fat"

	ferrors "github.com/dargueta/fat32/errors"
)

// DirEntry is one listed entry from a Dir, narrowed from the internal
// package's Dirent to the fields a caller listing a directory needs.
type DirEntry struct {
	Name         string
	Type         ObjectType
	Size         int64
	LastModified time.Time
}

// Dir is a handle to an open directory, returned by Volume.OpenDir. Like
// File, it holds its pooled Context for the handle's lifetime rather than
// per call, so repeated ReadDir calls resume the same DirIterator cursor.
type Dir struct {
	volume *Volume
	ctx    *fatfs.Context
	iter   *fatfs.DirIterator
	closed bool
}

func (d *Dir) checkOpen() error {
	if d.closed {
		return ferrors.ErrClosed
	}
	return nil
}

// ReadDir returns the next entry in the directory. At the end of the
// listing it returns ok == false with a nil error, so callers check the
// second return value rather than matching a specific error.
func (d *Dir) ReadDir() (DirEntry, bool, error) {
	if err := d.checkOpen(); err != nil {
		return DirEntry{}, false, err
	}

	dirent, err := d.iter.FetchNext()
	if err != nil {
		if _, ok := err.(fatfs.EndOfDir); ok {
			return DirEntry{}, false, nil
		}
		return DirEntry{}, false, err
	}

	entry := DirEntry{
		Name:         dirent.Name,
		Type:         classify(dirent.Attr),
		Size:         int64(dirent.Size),
		LastModified: dirent.LastModified,
	}
	return entry, true, nil
}

// Rewind resets the listing cursor back to the directory's first entry.
func (d *Dir) Rewind() {
	d.iter.Reset()
}

// Close releases the handle's pooled context. The handle must not be used
// again afterward.
func (d *Dir) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.volume.pool.Release(d.ctx)
	v := d.volume
	v.releaseDir(d)
	return nil
}
