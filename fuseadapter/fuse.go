//go:build linux
// +build linux

// Package fuseadapter exposes a mounted Volume as a FUSE filesystem, so a
// FAT32 image can be browsed and edited with ordinary filesystem tools
// instead of the library's own API. Grounded on the FUSE node/handle split
// used elsewhere in the retrieved corpus: a Dir/File pair implementing
// bazil.org/fuse/fs.Node, with the actual I/O delegated straight through to
// the engine's own Volume, Dir, and File types.
package fuseadapter

import (
	"context"
	"io"
	"os"
	"sync"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/dargueta/fat32"
)

// VolumeFS adapts a *fat32.Volume to bazil.org/fuse/fs.FS.
type VolumeFS struct {
	volume *fat32.Volume
}

func New(volume *fat32.Volume) *VolumeFS {
	return &VolumeFS{volume: volume}
}

func (vfs *VolumeFS) Root() (fusefs.Node, error) {
	return &dirNode{fs: vfs, path: "/"}, nil
}

// Mount serves vfs at mountpoint until the mountpoint is unmounted or ctx is
// cancelled.
func Mount(ctx context.Context, mountpoint string, volume *fat32.Volume) error {
	c, err := fuse.Mount(mountpoint)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := fusefs.New(c, nil)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(New(volume)) }()

	select {
	case <-ctx.Done():
		return fuse.Unmount(mountpoint)
	case err := <-errc:
		return err
	}
}

type dirNode struct {
	fs   *VolumeFS
	path string
}

func (d *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0755
	return nil
}

func (d *dirNode) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	childPath := joinPath(d.path, name)
	info, err := d.fs.volume.Stat(childPath)
	if err != nil {
		return nil, fuse.ENOENT
	}
	if info.IsDir() {
		return &dirNode{fs: d.fs, path: childPath}, nil
	}
	return &fileNode{fs: d.fs, path: childPath, size: uint64(info.Size)}, nil
}

func (d *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	handle, err := d.fs.volume.OpenDir(d.path)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	var out []fuse.Dirent
	for {
		entry, ok, err := handle.ReadDir()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dtype := fuse.DT_File
		if entry.Type == fat32.TypeDir {
			dtype = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{Name: entry.Name, Type: dtype})
	}
	return out, nil
}

func (d *dirNode) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	childPath := joinPath(d.path, req.Name)
	if err := d.fs.volume.MakeDir(childPath); err != nil {
		return nil, err
	}
	return &dirNode{fs: d.fs, path: childPath}, nil
}

func (d *dirNode) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := joinPath(d.path, req.Name)
	if req.Dir {
		return d.fs.volume.RemoveDir(childPath)
	}
	return d.fs.volume.Remove(childPath)
}

func (d *dirNode) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	destDir, ok := newDir.(*dirNode)
	if !ok {
		return fuse.Errno(fuse.ENOSYS)
	}
	return d.fs.volume.Move(joinPath(d.path, req.OldName), joinPath(destDir.path, req.NewName))
}

func (d *dirNode) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	childPath := joinPath(d.path, req.Name)
	f, err := d.fs.volume.OpenFile(childPath, fat32.ModeWrite)
	if err != nil {
		return nil, nil, err
	}
	node := &fileNode{fs: d.fs, path: childPath}
	handle := &fileHandle{file: f}
	return node, handle, nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

type fileNode struct {
	fs   *VolumeFS
	path string
	size uint64
}

func (f *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := f.fs.volume.Stat(f.path)
	if err != nil {
		return err
	}
	a.Mode = 0644
	a.Size = uint64(info.Size)
	a.Mtime = info.LastAccessed
	return nil
}

func (f *fileNode) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	mode := fat32.ModeRead
	if req.Flags.IsWriteOnly() || req.Flags.IsReadWrite() {
		mode = fat32.ModeWrite
	}
	handle, err := f.fs.volume.OpenFile(f.path, mode)
	if err != nil {
		return nil, err
	}
	return &fileHandle{file: handle}, nil
}

// fileHandle serializes concurrent FUSE callbacks onto the single cursor a
// *fat32.File carries, since Seek+Read/Write aren't atomic together.
type fileHandle struct {
	mu   sync.Mutex
	file *fat32.File
}

func (h *fileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.file.Seek(req.Offset, fat32.SeekSet); err != nil {
		return err
	}
	buf := make([]byte, req.Size)
	n, err := h.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	resp.Data = buf[:n]
	return nil
}

func (h *fileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.file.Seek(req.Offset, fat32.SeekSet); err != nil {
		return err
	}
	n, err := h.file.Write(req.Data)
	if err != nil {
		return err
	}
	resp.Size = n
	return nil
}

func (h *fileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Flush()
}

func (h *fileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}
