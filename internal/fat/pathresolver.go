// PathResolver tokenizes a POSIX-style path and walks DirIterator one
// component at a time. Grounded on the lookup shape of
// github.com/dargueta/disko's drivers/fat/driverbase.go (ReadDirFromDirent
// plus the caller-side per-component walk implied by its FATDriverCommon
// contract), generalized to match either the coalesced long name or the
// short name, case-insensitively, as required for VFAT compatibility.
package fat

import (
	"strings"

	"github.com/dargueta/fat32/internal/blockio"

	ferrors "github.com/dargueta/fat32/errors"
)

// Node is the resolver's output: enough information to open a file/dir
// handle or mutate the entry without re-resolving the path.
type Node struct {
	ParentCluster uint32
	ParentIndex   int
	NameCluster   uint32
	NameIndex     int
	FirstCluster  uint32
	Size          uint32
	Attr          uint8
	Name          string
	Created       Dirent
}

// NotFoundError carries the unresolved remainder of the path, which
// open(WRITE) uses to know what final component to create.
type NotFoundError struct {
	Remainder string
}

func (e *NotFoundError) Error() string {
	return ferrors.ErrNotFound.WithMessage(e.Remainder).Error()
}

func (e *NotFoundError) Unwrap() error { return ferrors.ErrNotFound }

// PathResolver walks paths against a volume's directory tree.
type PathResolver struct {
	geometry    *blockio.Geometry
	cache       *blockio.SectorCache
	fat         *FatTable
	rootCluster uint32
}

// NewPathResolver builds a resolver bound to the given volume.
func NewPathResolver(geometry *blockio.Geometry, cache *blockio.SectorCache, fat *FatTable, rootCluster uint32) *PathResolver {
	return &PathResolver{geometry: geometry, cache: cache, fat: fat, rootCluster: rootCluster}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Resolve walks path component by component starting from the volume root.
// On success it returns the Node describing the final component. On
// failure to find a component it returns a *NotFoundError naming the
// remaining (unresolved) path suffix, including the component that failed.
func (r *PathResolver) Resolve(path string) (Node, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return r.rootNode(), nil
	}

	currentCluster := r.rootCluster
	var node Node

	for i, component := range components {
		dirent, err := r.findInDirectory(currentCluster, component)
		if err != nil {
			return Node{}, &NotFoundError{Remainder: strings.Join(components[i:], "/")}
		}

		node = Node{
			ParentCluster: dirent.ParentCluster,
			ParentIndex:   dirent.ParentIndex,
			NameCluster:   dirent.NameCluster,
			NameIndex:     dirent.NameIndex,
			FirstCluster:  dirent.FirstCluster,
			Size:          dirent.Size,
			Attr:          dirent.Attr,
			Name:          dirent.Name,
			Created:       dirent,
		}

		isLast := i == len(components)-1
		if !isLast {
			if !dirent.IsDir() {
				return Node{}, ferrors.ErrNotADirectory.WithMessage(component)
			}
			currentCluster = dirent.FirstCluster
		}
	}

	return node, nil
}

func (r *PathResolver) rootNode() Node {
	return Node{
		ParentCluster: 0,
		ParentIndex:   -1,
		NameCluster:   0,
		NameIndex:     -1,
		FirstCluster:  r.rootCluster,
		Attr:          AttrDirectory,
		Name:          "/",
	}
}

func (r *PathResolver) findInDirectory(dirCluster uint32, name string) (Dirent, error) {
	it := NewDirIterator(r.geometry, r.cache, r.fat, dirCluster)
	target := strings.ToUpper(name)

	for {
		dirent, err := it.FetchNext()
		if err != nil {
			if _, ok := err.(EndOfDir); ok {
				return Dirent{}, ferrors.ErrNotFound.WithMessage(name)
			}
			return Dirent{}, err
		}

		if strings.ToUpper(dirent.Name) == target {
			return dirent, nil
		}
		if strings.ToUpper(dirent.ShortName.String()) == target {
			return dirent, nil
		}
	}
}

// ParentDir splits path into its parent directory path and final component
// name, e.g. "/a/b/c.txt" -> ("a/b", "c.txt"); leading and trailing slashes
// are trimmed first. An empty parent means the volume root.
func ParentDir(path string) (parent string, name string) {
	trimmed := strings.Trim(path, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return "", trimmed
	}
	return trimmed[:idx], trimmed[idx+1:]
}
